package capture

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/chainscout/internal/storage"
	"github.com/dgnsrekt/chainscout/internal/types"
)

// redactedHeaders are never written to disk.
var redactedHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"x-csrftoken":   true,
}

// Writer is the subset of storage.WriterRegistry the captures need.
type Writer interface {
	GetWriter(subDir, fileBase string) *storage.JSONLWriter
}

// HTTPCapture records XHR/Fetch exchanges whose URL matches one of the
// configured hints (quote and option-chain endpoints).
type HTTPCapture struct {
	registry    Writer
	tabRegistry types.TabInfoProvider

	urlHints     []string
	maxBodyBytes int

	pending   map[string]*types.PendingRequest
	pendingMu sync.Mutex

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

func NewHTTPCapture(registry Writer, tabRegistry types.TabInfoProvider, urlHints []string, maxBodyBytes int) *HTTPCapture {
	h := &HTTPCapture{
		registry:     registry,
		tabRegistry:  tabRegistry,
		urlHints:     urlHints,
		maxBodyBytes: maxBodyBytes,
		pending:      make(map[string]*types.PendingRequest),
		done:         make(chan struct{}),
	}
	go h.cleanupLoop()
	return h
}

// Close stops the cleanup loop and waits for in-flight body fetches.
func (h *HTTPCapture) Close() {
	h.once.Do(func() { close(h.done) })
	h.wg.Wait()
}

// Pending returns the number of requests awaiting completion.
func (h *HTTPCapture) Pending() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

func (h *HTTPCapture) OnRequestWillBeSent(tabID string, ev *network.EventRequestWillBeSent) {
	if ev.Request == nil || !storage.IsAPIResource(string(ev.Type)) || !storage.MatchesAny(ev.Request.URL, h.urlHints) {
		return
	}

	var postData string
	if ev.Request.HasPostData && len(ev.Request.PostDataEntries) > 0 {
		var decodedParts []byte
		for _, entry := range ev.Request.PostDataEntries {
			if entry.Bytes == "" {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
			if err != nil {
				decodedParts = append(decodedParts, []byte(entry.Bytes)...)
			} else {
				decodedParts = append(decodedParts, decoded...)
			}
		}
		postData = string(decodedParts)
	}

	rec := &types.HTTPCapture{
		Timestamp:    time.Now().UTC(),
		RequestID:    string(ev.RequestID),
		TabID:        tabID,
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: string(ev.Type),
		Request: types.HTTPRequest{
			Headers:  headerMapToStringMap(ev.Request.Headers),
			PostData: postData,
		},
	}

	h.pendingMu.Lock()
	h.pending[string(ev.RequestID)] = &types.PendingRequest{Capture: rec, Timestamp: time.Now()}
	h.pendingMu.Unlock()
}

func (h *HTTPCapture) OnResponseReceived(tabID string, ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	pending, ok := h.pending[string(ev.RequestID)]
	if !ok {
		return
	}
	pending.Capture.Response = &types.HTTPResponse{
		Status:     int(ev.Response.Status),
		StatusText: ev.Response.StatusText,
		MimeType:   ev.Response.MimeType,
		Headers:    headerMapToStringMap(ev.Response.Headers),
	}
}

// OnLoadingFinished fetches the body through getBody off the event loop and
// writes the completed capture.
func (h *HTTPCapture) OnLoadingFinished(tabID string, ev *network.EventLoadingFinished, getBody func() ([]byte, error)) {
	h.pendingMu.Lock()
	pending, ok := h.pending[string(ev.RequestID)]
	if ok {
		delete(h.pending, string(ev.RequestID))
	}
	h.pendingMu.Unlock()
	if !ok {
		return
	}

	pathSegment, browserID := "unknown", "unknown"
	if info, ok := h.tabRegistry.GetByStringID(tabID); ok {
		pathSegment, browserID = info.PathSegment, info.BrowserID
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		rec := pending.Capture
		if rec.Response != nil && getBody != nil {
			body, err := getBody()
			if err != nil {
				slog.Debug("capture body fetch failed", "request_id", ev.RequestID, "error", err)
			} else if len(body) > 0 {
				kept, truncated, originalSize, bodyHash := truncateBytes(body, h.maxBodyBytes)
				if utf8.Valid(kept) {
					rec.Response.Body = string(kept)
				} else {
					rec.Response.BodyBase64 = base64.StdEncoding.EncodeToString(kept)
				}
				if truncated {
					rec.Response.Truncated = true
					rec.Response.OriginalSize = originalSize
					rec.Response.SHA256 = bodyHash
				}
			}
		}

		writer := h.registry.GetWriter("captures/"+pathSegment+"/http", browserID)
		if err := writer.Write(rec); err != nil {
			slog.Warn("capture write failed", "request_id", ev.RequestID, "error", err)
		}
	}()
}

func (h *HTTPCapture) OnLoadingFailed(tabID string, ev *network.EventLoadingFailed) {
	h.pendingMu.Lock()
	delete(h.pending, string(ev.RequestID))
	h.pendingMu.Unlock()
}

func (h *HTTPCapture) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanupStale(time.Now().Add(-5 * time.Minute))
		case <-h.done:
			return
		}
	}
}

func (h *HTTPCapture) cleanupStale(threshold time.Time) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	for id, pending := range h.pending {
		if pending.Timestamp.Before(threshold) {
			delete(h.pending, id)
		}
	}
}

func headerMapToStringMap(headers map[string]any) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if redactedHeaders[strings.ToLower(k)] {
			continue
		}
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
