package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"no session with given id",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"execution context was destroyed",
}

const navigateReadyTimeout = 30 * time.Second

type tabSession struct {
	info      PageInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives a single brokerage tab over raw CDP.
type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu     sync.Mutex
	cdp    *rawCDP
	tabs   map[target.ID]*tabSession
	order  []target.ID
	active target.ID

	unsubscribe []func()

	pageLocksMu sync.Mutex
	pageLocks   map[target.ID]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		pageLocks:   make(map[target.ID]*sync.Mutex),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	// Leaving a page with unsaved state raises beforeunload dialogs that would
	// otherwise block every later evaluation on the tab.
	raw := c.cdp
	c.unsubscribe = append(c.unsubscribe, raw.registerEventHandler("Page.javascriptDialogOpening", func(sessionID string, params json.RawMessage) {
		var ev struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(params, &ev)
		slog.Info("cdpcontrol dismissing dialog", "type", ev.Type, "message", ev.Message)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := raw.handleJavaScriptDialog(ctx, sessionID, true); err != nil {
				slog.Warn("cdpcontrol dialog dismiss failed", "error", err)
			}
		}()
	}))

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "pages", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	for _, fn := range c.unsubscribe {
		fn()
	}
	c.unsubscribe = nil

	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for targetID, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.order = nil
}

// ListPages returns the tabs matching the tab filter, most recently
// focused first.
func (c *Client) ListPages(ctx context.Context) ([]PageInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list pages failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pages := make([]PageInfo, 0, len(c.order))
	for _, id := range c.order {
		if s := c.tabs[id]; s != nil {
			pages = append(pages, s.info)
		}
	}
	return pages, nil
}

// EnsurePage selects a matching tab, opening one at url when none exists.
func (c *Client) EnsurePage(ctx context.Context, url string) (PageInfo, error) {
	if session, err := c.resolveActive(ctx); err == nil {
		return session.info, nil
	} else if !c.asCode(err, CodePageNotFound) {
		return PageInfo{}, err
	}

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return PageInfo{}, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	id, err := cdp.createTarget(ctx, url)
	if err != nil {
		return PageInfo{}, newError(CodeCDPUnavailable, "create target failed", err)
	}
	slog.Info("cdpcontrol page created", "target_id", id, "url", url)

	if err := c.refreshTabs(ctx); err != nil {
		return PageInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(id)]
	if session == nil {
		return PageInfo{}, newError(CodePageNotFound, "created page does not match tab filter: "+url, nil)
	}
	c.active = target.ID(id)
	return session.info, nil
}

// Navigate loads url in the active tab and waits for the document to finish
// loading.
func (c *Client) Navigate(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return newError(CodeValidation, "url is required", nil)
	}
	err := c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		if err := cdp.navigate(ctx, sessionID, url); err != nil {
			return newError(CodeEvalFailure, "navigation failed", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.waitReady(ctx)
}

func (c *Client) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, navigateReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return newError(CodeEvalTimeout, "page did not finish loading", ctx.Err())
		case <-ticker.C:
		}
		var out struct {
			State string `json:"state"`
		}
		if err := c.evalOnPage(ctx, jsReadyState(), &out); err != nil {
			// The old execution context disappears mid-navigation.
			slog.Debug("cdpcontrol ready poll", "error", err)
			continue
		}
		if out.State == "complete" {
			return nil
		}
	}
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.evalOnPage(ctx, jsCurrentURL(), &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Content returns the document's outerHTML.
func (c *Client) Content(ctx context.Context) (string, error) {
	var out struct {
		HTML string `json:"html"`
	}
	if err := c.evalOnPage(ctx, jsContent(), &out); err != nil {
		return "", err
	}
	return out.HTML, nil
}

// VisibleText returns document.body.innerText.
func (c *Client) VisibleText(ctx context.Context) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.evalOnPage(ctx, jsVisibleText(), &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Exists returns the first selector that matches a visible element, or ""
// when none do.
func (c *Client) Exists(ctx context.Context, selectors ...string) (string, error) {
	if len(selectors) == 0 {
		return "", nil
	}
	var out struct {
		Selector string `json:"selector"`
	}
	if err := c.evalOnPage(ctx, jsExists(selectors), &out); err != nil {
		return "", err
	}
	return out.Selector, nil
}

// Fill focuses and clears the element, then types value as trusted input.
func (c *Client) Fill(ctx context.Context, selector, value string) error {
	if strings.TrimSpace(selector) == "" {
		return newError(CodeValidation, "selector is required", nil)
	}
	if err := c.evalOnPage(ctx, jsFocusAndClear(selector), nil); err != nil {
		return err
	}
	return c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		return insertOrType(ctx, cdp, sessionID, value)
	})
}

// ClickSelector scrolls the first visible match into view and clicks its
// centre.
func (c *Client) ClickSelector(ctx context.Context, selector string) error {
	if strings.TrimSpace(selector) == "" {
		return newError(CodeValidation, "selector is required", nil)
	}
	var box ElementBox
	if err := c.evalOnPage(ctx, jsBoxForSelector(selector), &box); err != nil {
		return err
	}
	return c.ClickAt(ctx, box.X+box.Width/2, box.Y+box.Height/2)
}

// ClickText clicks the first visible element of the given tag whose text is
// label. An empty tag matches any element.
func (c *Client) ClickText(ctx context.Context, tag, label string) error {
	if strings.TrimSpace(label) == "" {
		return newError(CodeValidation, "label is required", nil)
	}
	var box ElementBox
	if err := c.evalOnPage(ctx, jsBoxForText(tag, label), &box); err != nil {
		return err
	}
	return c.ClickAt(ctx, box.X+box.Width/2, box.Y+box.Height/2)
}

// ClickAt dispatches a trusted left click at viewport coordinates.
func (c *Client) ClickAt(ctx context.Context, x, y float64) error {
	return c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		if err := cdp.dispatchMouseClick(ctx, sessionID, x, y); err != nil {
			return newError(CodeEvalFailure, "failed to dispatch trusted mouse click", err)
		}
		return nil
	})
}

type keySpec struct {
	key     string
	code    string
	keyCode int
}

var namedKeys = map[string]keySpec{
	"escape":    {"Escape", "Escape", 27},
	"enter":     {"Enter", "Enter", 13},
	"tab":       {"Tab", "Tab", 9},
	"backspace": {"Backspace", "Backspace", 8},
}

// PressKey sends a trusted key press for a named key (Escape, Enter, Tab,
// Backspace).
func (c *Client) PressKey(ctx context.Context, key string) error {
	spec, ok := namedKeys[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return newError(CodeValidation, "unsupported key: "+key, nil)
	}
	return c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		if err := cdp.dispatchKeyEvent(ctx, sessionID, spec.key, spec.code, spec.keyCode, 0); err != nil {
			return newError(CodeEvalFailure, "failed to dispatch trusted key event", err)
		}
		return nil
	})
}

// insertOrType inserts value into the focused element, typing it one
// character at a time when Input.insertText is rejected. Some React inputs
// only react to key events.
func insertOrType(ctx context.Context, cdp *rawCDP, sessionID, value string) error {
	err := cdp.insertText(ctx, sessionID, value)
	if err == nil {
		return nil
	}
	slog.Debug("cdpcontrol insertText failed, typing characters", "error", err)
	for _, r := range value {
		if err := cdp.dispatchCharInput(ctx, sessionID, string(r)); err != nil {
			return newError(CodeEvalFailure, "failed to dispatch trusted character input", err)
		}
	}
	return nil
}

// FindPriceElements returns boxes of visible elements containing priceText
// for the first selector family that yields any, at most three. The first
// candidate is scrolled into view before measuring.
func (c *Client) FindPriceElements(ctx context.Context, priceText string, families []string, minW, minH float64) ([]ElementBox, error) {
	if strings.TrimSpace(priceText) == "" {
		return nil, newError(CodeValidation, "price text is required", nil)
	}
	var out struct {
		Boxes []ElementBox `json:"boxes"`
	}
	if err := c.evalOnPage(ctx, jsFindPriceElements(priceText, families, minW, minH, 3), &out); err != nil {
		return nil, err
	}
	return out.Boxes, nil
}

// ScanClickText walks the DOM for an element whose own text is exactly
// priceText and clicks it in-page.
func (c *Client) ScanClickText(ctx context.Context, priceText string) (ScanClickResult, error) {
	var out ScanClickResult
	if err := c.evalOnPage(ctx, jsScanClickText(priceText), &out); err != nil {
		return ScanClickResult{}, err
	}
	return out, nil
}

// LabeledValues looks up each label on the page and returns the text shown
// next to it. Labels not present are omitted.
func (c *Client) LabeledValues(ctx context.Context, labels []string) (map[string]string, error) {
	out := map[string]string{}
	if len(labels) == 0 {
		return out, nil
	}
	if err := c.evalOnPage(ctx, jsLabeledValues(labels), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Screenshot captures the visible viewport. format is "png" or "jpeg".
func (c *Client) Screenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	switch format {
	case "":
		format = "png"
	case "png", "jpeg":
	default:
		return nil, newError(CodeValidation, "format must be png or jpeg", nil)
	}
	var data []byte
	err := c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		b64, err := cdp.captureScreenshot(ctx, sessionID, format, quality, false)
		if err != nil {
			return newError(CodeEvalFailure, "screenshot failed", err)
		}
		data, err = base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return newError(CodeEvalFailure, "invalid screenshot data", err)
		}
		return nil
	})
	return data, err
}

func (c *Client) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		var err error
		cookies, err = cdp.getCookies(ctx, sessionID)
		if err != nil {
			return newError(CodeEvalFailure, "read cookies failed", err)
		}
		return nil
	})
	return cookies, err
}

func (c *Client) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]Cookie, len(cookies))
	for i, ck := range cookies {
		// Session cookies come back with expires -1, which setCookies rejects.
		if ck.Expires <= 0 {
			ck.Expires = 0
		}
		params[i] = ck
	}
	return c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		if err := cdp.setCookies(ctx, sessionID, params); err != nil {
			return newError(CodeEvalFailure, "set cookies failed", err)
		}
		return nil
	})
}

// evalOnPage evaluates an envelope-returning expression on the active tab.
func (c *Client) evalOnPage(ctx context.Context, js string, out any) error {
	return c.withPage(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		return c.evalOnSession(ctx, cdp, sessionID, js, out)
	})
}

// withPage runs fn against the active tab's session under the page lock,
// retrying once after recovery when the failure looks transient.
func (c *Client) withPage(ctx context.Context, fn func(ctx context.Context, cdp *rawCDP, sessionID string) error) error {
	err := c.runOnActive(ctx, fn)
	if err == nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol page op retry after transient failure", "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "error", syncErr)
	}
	return c.runOnActive(ctx, fn)
}

func (c *Client) runOnActive(ctx context.Context, fn func(ctx context.Context, cdp *rawCDP, sessionID string) error) error {
	session, err := c.resolveActive(ctx)
	if err != nil {
		return err
	}
	targetID := target.ID(session.info.TargetID)

	lock := c.pageLock(targetID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, session.info.TargetID)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()
	if err := fn(opCtx, cdp, sessionID); err != nil {
		if c.shouldRetry(err) {
			// Reset session so a fresh attach happens on retry.
			session.mu.Lock()
			session.sessionID = ""
			session.mu.Unlock()
		}
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) && !c.asCode(err, CodeEvalTimeout) {
			return newError(CodeEvalTimeout, "page operation timed out", err)
		}
		return err
	}
	return nil
}

func (c *Client) evalOnSession(ctx context.Context, cdp *rawCDP, sessionID, js string, out any) error {
	raw, err := cdp.evaluate(ctx, sessionID, js)
	if err != nil {
		slog.Debug("cdpcontrol eval failed", "session_id", sessionID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	if err := cdp.enablePageDomain(ctx, sid); err != nil {
		slog.Warn("cdpcontrol page domain enable failed", "target_id", targetID, "error", err)
	}
	if err := cdp.enableNetworkDomain(ctx, sid); err != nil {
		slog.Warn("cdpcontrol network domain enable failed", "target_id", targetID, "error", err)
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

func (c *Client) resolveActive(ctx context.Context) (*tabSession, error) {
	if s := c.lookupActive(); s != nil {
		return s, nil
	}
	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}
	if s := c.lookupActive(); s != nil {
		return s, nil
	}
	return nil, newError(CodePageNotFound, "no tab matches "+c.tabFilter, nil)
}

func (c *Client) lookupActive() *tabSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.tabs[c.active]; s != nil {
		return s
	}
	if len(c.order) == 0 {
		return nil
	}
	c.active = c.order[0]
	return c.tabs[c.active]
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}

	return newError(CodeCDPUnavailable, "failed to list targets", err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	expected := make(map[target.ID]PageInfo)
	order := make([]target.ID, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		expected[t.TargetID] = PageInfo{
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		}
		order = append(order, t.TargetID)
	}

	for targetID := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		delete(c.tabs, targetID)
	}

	for targetID, info := range expected {
		session := c.tabs[targetID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info}
	}
	c.order = order
	if _, ok := c.tabs[c.active]; !ok {
		c.active = ""
	}

	// Prune page locks for tabs no longer present.
	c.pageLocksMu.Lock()
	for id := range c.pageLocks {
		if _, ok := c.tabs[id]; !ok {
			delete(c.pageLocks, id)
		}
	}
	c.pageLocksMu.Unlock()

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "pages", len(c.tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) pageLock(id target.ID) *sync.Mutex {
	c.pageLocksMu.Lock()
	defer c.pageLocksMu.Unlock()
	if c.pageLocks == nil {
		c.pageLocks = make(map[target.ID]*sync.Mutex)
	}
	m, ok := c.pageLocks[id]
	if !ok {
		m = &sync.Mutex{}
		c.pageLocks[id] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodePageNotFound, CodeElementNotFound, CodeValidation:
		return false
	case CodeEvalFailure, CodeEvalTimeout:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
