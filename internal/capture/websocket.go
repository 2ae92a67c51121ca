package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/chainscout/internal/storage"
	"github.com/dgnsrekt/chainscout/internal/types"
)

type wsConnection struct {
	*types.WebSocketConnection
	PathSegment string
	BrowserID   string
}

// WebSocketCapture records frames on sockets whose URL matches a hint.
// Streaming quote feeds are the interesting ones; everything else is
// ignored at creation time.
type WebSocketCapture struct {
	registry      Writer
	tabRegistry   types.TabInfoProvider
	urlHints      []string
	maxFrameBytes int

	connections   map[string]*wsConnection
	connectionsMu sync.RWMutex
}

func NewWebSocketCapture(registry Writer, tabRegistry types.TabInfoProvider, urlHints []string, maxFrameBytes int) *WebSocketCapture {
	return &WebSocketCapture{
		registry:      registry,
		tabRegistry:   tabRegistry,
		urlHints:      urlHints,
		maxFrameBytes: maxFrameBytes,
		connections:   make(map[string]*wsConnection),
	}
}

func (w *WebSocketCapture) OnWebSocketCreated(tabID string, ev *network.EventWebSocketCreated) {
	if !storage.MatchesAny(ev.URL, w.urlHints) {
		return
	}

	conn := &wsConnection{
		WebSocketConnection: &types.WebSocketConnection{
			RequestID: string(ev.RequestID),
			URL:       ev.URL,
			TabID:     tabID,
			CreatedAt: time.Now().UTC(),
		},
		PathSegment: "unknown",
		BrowserID:   "unknown",
	}
	if info, ok := w.tabRegistry.GetByStringID(tabID); ok {
		conn.PathSegment, conn.BrowserID = info.PathSegment, info.BrowserID
	}

	w.connectionsMu.Lock()
	w.connections[string(ev.RequestID)] = conn
	w.connectionsMu.Unlock()

	w.write(conn, &types.WebSocketCapture{
		Timestamp: time.Now().UTC(),
		RequestID: string(ev.RequestID),
		TabID:     tabID,
		URL:       ev.URL,
		EventType: "created",
	})
}

func (w *WebSocketCapture) OnWebSocketFrameReceived(tabID string, ev *network.EventWebSocketFrameReceived) {
	w.onFrame(tabID, string(ev.RequestID), "frame_received", "incoming", ev.Response)
}

func (w *WebSocketCapture) OnWebSocketFrameSent(tabID string, ev *network.EventWebSocketFrameSent) {
	w.onFrame(tabID, string(ev.RequestID), "frame_sent", "outgoing", ev.Response)
}

func (w *WebSocketCapture) onFrame(tabID, requestID, eventType, direction string, frame *network.WebSocketFrame) {
	if frame == nil {
		return
	}
	w.connectionsMu.RLock()
	conn, ok := w.connections[requestID]
	w.connectionsMu.RUnlock()
	if !ok {
		return
	}

	payload, truncated, originalSize, payloadHash := truncateStringBytes(frame.PayloadData, w.maxFrameBytes)
	w.write(conn, &types.WebSocketCapture{
		Timestamp:    time.Now().UTC(),
		RequestID:    requestID,
		TabID:        tabID,
		URL:          conn.URL,
		EventType:    eventType,
		Direction:    direction,
		Opcode:       int(frame.Opcode),
		PayloadData:  payload,
		Truncated:    truncated,
		OriginalSize: originalSize,
		SHA256:       payloadHash,
	})
}

func (w *WebSocketCapture) OnWebSocketClosed(tabID string, ev *network.EventWebSocketClosed) {
	w.connectionsMu.Lock()
	conn, ok := w.connections[string(ev.RequestID)]
	if ok {
		delete(w.connections, string(ev.RequestID))
	}
	w.connectionsMu.Unlock()
	if !ok {
		return
	}

	w.write(conn, &types.WebSocketCapture{
		Timestamp: time.Now().UTC(),
		RequestID: string(ev.RequestID),
		TabID:     tabID,
		URL:       conn.URL,
		EventType: "closed",
	})
}

// ActiveConnections returns the number of tracked sockets.
func (w *WebSocketCapture) ActiveConnections() int {
	w.connectionsMu.RLock()
	defer w.connectionsMu.RUnlock()
	return len(w.connections)
}

func (w *WebSocketCapture) write(conn *wsConnection, rec *types.WebSocketCapture) {
	writer := w.registry.GetWriter("captures/"+conn.PathSegment+"/websocket", conn.BrowserID)
	if err := writer.Write(rec); err != nil {
		slog.Warn("capture websocket write failed", "request_id", rec.RequestID, "event", rec.EventType, "error", err)
	}
}

func truncateStringBytes(in string, maxBytes int) (string, bool, int, string) {
	raw := []byte(in)
	out, truncated, origLen, hash := truncateBytes(raw, maxBytes)
	return string(out), truncated, origLen, hash
}
