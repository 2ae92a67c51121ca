// Package cdp passively observes the brokerage tab's network traffic through
// chromedp and hands quote-bearing responses to the capture package. It
// never drives the page; cdpcontrol does that.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/chainscout/internal/capture"
)

// Observer attaches to matching tabs and forwards network events.
type Observer struct {
	cdpURL      string
	tabFilter   string
	httpCapture *capture.HTTPCapture
	wsCapture   *capture.WebSocketCapture
	tabRegistry *TabRegistry

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        map[target.ID]*tabContext
	tabsMu      sync.RWMutex
}

type tabContext struct {
	id     target.ID
	url    string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewObserver(cdpURL, tabFilter string, httpCapture *capture.HTTPCapture, wsCapture *capture.WebSocketCapture, tabRegistry *TabRegistry) *Observer {
	return &Observer{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		httpCapture: httpCapture,
		wsCapture:   wsCapture,
		tabRegistry: tabRegistry,
		tabs:        make(map[target.ID]*tabContext),
	}
}

// Start connects to the browser and attaches to every matching page tab.
// It is an error when none match.
func (o *Observer) Start(ctx context.Context) error {
	slog.Info("cdp observer connecting", "url", o.cdpURL)
	o.allocCtx, o.allocCancel = chromedp.NewRemoteAllocator(context.Background(), o.cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(o.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("cdp: connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("cdp: enumerate targets: %w", err)
	}

	attached := 0
	for _, t := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.Type != "page" || !o.matchesTabURL(t.URL) {
			continue
		}
		if err := o.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("cdp observer attach failed", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attached++
	}

	if attached == 0 {
		return fmt.Errorf("cdp: no tabs match %q", o.tabFilter)
	}
	slog.Info("cdp observer attached", "tabs", attached, "tab_url_filter", o.tabFilter)
	return nil
}

func (o *Observer) attachToTab(targetID target.ID, url string) error {
	tabInfo, err := o.tabRegistry.Register(targetID, url)
	if err != nil {
		return fmt.Errorf("register tab: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(o.allocCtx, chromedp.WithTargetID(targetID))
	tab := &tabContext{id: targetID, url: url, ctx: tabCtx, cancel: tabCancel}

	o.tabsMu.Lock()
	o.tabs[targetID] = tab
	o.tabsMu.Unlock()

	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable()); err != nil {
		tabCancel()
		o.tabsMu.Lock()
		delete(o.tabs, targetID)
		o.tabsMu.Unlock()
		o.tabRegistry.Remove(targetID)
		return fmt.Errorf("enable network/page domains: %w", err)
	}

	slog.Info("cdp observer tab attached", "target_id", targetID, "path_segment", tabInfo.PathSegment, "browser_id", tabInfo.BrowserID, "url", truncateURL(url))
	chromedp.ListenTarget(tabCtx, o.eventHandler(string(targetID)))
	return nil
}

func (o *Observer) eventHandler(tabID string) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				if info, err := o.tabRegistry.Register(target.ID(tabID), e.Frame.URL); err == nil {
					slog.Debug("cdp observer tab navigated", "tab_id", tabID, "path_segment", info.PathSegment)
				}
			}
		case *page.EventNavigatedWithinDocument:
			_, _ = o.tabRegistry.Register(target.ID(tabID), e.URL)
		case *network.EventRequestWillBeSent:
			o.httpCapture.OnRequestWillBeSent(tabID, e)
		case *network.EventResponseReceived:
			o.httpCapture.OnResponseReceived(tabID, e)
		case *network.EventLoadingFinished:
			o.httpCapture.OnLoadingFinished(tabID, e, o.bodyFetcher(tabID, e.RequestID))
		case *network.EventLoadingFailed:
			o.httpCapture.OnLoadingFailed(tabID, e)
		case *network.EventWebSocketCreated:
			o.wsCapture.OnWebSocketCreated(tabID, e)
		case *network.EventWebSocketFrameReceived:
			o.wsCapture.OnWebSocketFrameReceived(tabID, e)
		case *network.EventWebSocketFrameSent:
			o.wsCapture.OnWebSocketFrameSent(tabID, e)
		case *network.EventWebSocketClosed:
			o.wsCapture.OnWebSocketClosed(tabID, e)
		}
	}
}

// bodyFetcher returns a closure that reads a response body on the tab. The
// listener goroutine must not block, so the capture calls it later.
func (o *Observer) bodyFetcher(tabID string, requestID network.RequestID) func() ([]byte, error) {
	o.tabsMu.RLock()
	tab, ok := o.tabs[target.ID(tabID)]
	o.tabsMu.RUnlock()
	if !ok {
		return nil
	}
	return func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(tab.ctx, 10*time.Second)
		defer cancel()
		var body []byte
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(requestID).Do(ctx)
			return err
		}))
		return body, err
	}
}

// Close detaches from all tabs without closing them.
func (o *Observer) Close() error {
	o.tabsMu.Lock()
	o.tabs = make(map[target.ID]*tabContext)
	o.tabsMu.Unlock()

	if o.allocCancel != nil {
		o.allocCancel()
	}
	slog.Info("cdp observer closed")
	return nil
}

// TabCount returns the number of attached tabs.
func (o *Observer) TabCount() int {
	o.tabsMu.RLock()
	defer o.tabsMu.RUnlock()
	return len(o.tabs)
}

func (o *Observer) matchesTabURL(url string) bool {
	if o.tabFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), o.tabFilter)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
