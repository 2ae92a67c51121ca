package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func withDefaultHTTPClient(t *testing.T, transport http.RoundTripper) {
	t.Helper()
	origClient := http.DefaultClient
	t.Cleanup(func() {
		http.DefaultClient = origClient
	})
	http.DefaultClient = &http.Client{
		Transport: transport,
	}
}

func jsonListTransport(t *testing.T, targets []map[string]any) roundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/json/list" {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(``))}, nil
		}
		payload, err := json.Marshal(targets)
		if err != nil {
			t.Fatalf("json.Marshal() = %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(string(payload))),
		}, nil
	}
}

func TestSyncTabsLockedWrapsListTargetsError(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/json/list" {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader(`oops`)),
			}, nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(``))}, nil
	}))

	c := &Client{
		cdp:  newRawCDP("http://example.com"),
		tabs: map[target.ID]*tabSession{},
	}

	err := c.refreshTabs(context.Background())
	if err == nil {
		t.Fatal("expected refreshTabs() to fail")
	}

	var codedErr *CodedError
	if !errors.As(err, &codedErr) {
		t.Fatalf("expected *CodedError, got %T", err)
	}
	if codedErr.Code != CodeCDPUnavailable {
		t.Fatalf("error code = %s; want %s", codedErr.Code, CodeCDPUnavailable)
	}
	if !strings.Contains(codedErr.Message, "failed to list targets") {
		t.Fatalf("error message = %q; want to contain %q", codedErr.Message, "failed to list targets")
	}
}

func TestSyncTabsFiltersByURLAndKeepsOrder(t *testing.T) {
	withDefaultHTTPClient(t, jsonListTransport(t, []map[string]any{
		{"id": "t-worker", "type": "service_worker", "url": "https://robinhood.com/sw.js"},
		{"id": "t-other", "type": "page", "url": "https://example.com/"},
		{"id": "t-chain", "type": "page", "url": "https://robinhood.com/options/chains/SPY", "title": "SPY"},
		{"id": "t-login", "type": "page", "url": "https://ROBINHOOD.com/login"},
	}))

	c := NewClient("http://example.com", "robinhood.com", time.Second)
	c.cdp = newRawCDP("http://example.com")

	pages, err := c.ListPages(context.Background())
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d; want 2 (%+v)", len(pages), pages)
	}
	if pages[0].TargetID != "t-chain" || pages[1].TargetID != "t-login" {
		t.Fatalf("pages order = %s, %s; want t-chain, t-login", pages[0].TargetID, pages[1].TargetID)
	}

	active, err := c.EnsurePage(context.Background(), "https://robinhood.com/options/chains/SPY")
	if err != nil {
		t.Fatalf("EnsurePage() error = %v", err)
	}
	if active.TargetID != "t-chain" {
		t.Fatalf("active = %s; want t-chain", active.TargetID)
	}
}

func TestResolveActiveWithoutMatchingTab(t *testing.T) {
	withDefaultHTTPClient(t, jsonListTransport(t, []map[string]any{
		{"id": "t-other", "type": "page", "url": "https://example.com/"},
	}))

	c := NewClient("http://example.com", "robinhood.com", time.Second)
	c.cdp = newRawCDP("http://example.com")

	_, err := c.CurrentURL(context.Background())
	if code := ErrorCode(err); code != CodePageNotFound {
		t.Fatalf("CurrentURL() code = %q; want %q (err %v)", code, CodePageNotFound, err)
	}
}

func TestPageOperationsWrapDispatchErrors(t *testing.T) {
	targetID := target.ID("target-1")
	pageURL := "https://robinhood.com/options/chains/SPY"

	withDefaultHTTPClient(t, jsonListTransport(t, []map[string]any{
		{"id": string(targetID), "type": "page", "url": pageURL, "title": "test"},
	}))

	c := &Client{
		cdp:         newRawCDP("http://example.com"),
		tabFilter:   "robinhood.com",
		evalTimeout: time.Second,
		tabs: map[target.ID]*tabSession{
			targetID: {
				sessionID: "session-1",
				info:      PageInfo{TargetID: string(targetID), URL: pageURL, Title: "test"},
			},
		},
		order: []target.ID{targetID},
	}

	tests := []struct {
		name   string
		run    func() error
		errMsg string
	}{
		{
			name:   "PressKey",
			run:    func() error { return c.PressKey(context.Background(), "Escape") },
			errMsg: "failed to dispatch trusted key event",
		},
		{
			name:   "ClickAt",
			run:    func() error { return c.ClickAt(context.Background(), 10, 10) },
			errMsg: "failed to dispatch trusted mouse click",
		},
		{
			name: "InsertOrType",
			run: func() error {
				return c.withPage(context.Background(), func(ctx context.Context, cdp *rawCDP, sessionID string) error {
					return insertOrType(ctx, cdp, sessionID, "abc")
				})
			},
			errMsg: "failed to dispatch trusted character input",
		},
		{
			name:   "Cookies",
			run:    func() error { _, err := c.Cookies(context.Background()); return err },
			errMsg: "read cookies failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatalf("%s = nil; want error", tt.name)
			}
			var codedErr *CodedError
			if !errors.As(err, &codedErr) {
				t.Fatalf("%s returned %T; want *CodedError", tt.name, err)
			}
			if codedErr.Code != CodeEvalFailure {
				t.Fatalf("%s code = %s; want %s", tt.name, codedErr.Code, CodeEvalFailure)
			}
			if !strings.Contains(codedErr.Message, tt.errMsg) {
				t.Fatalf("%s message = %q; want to contain %q", tt.name, codedErr.Message, tt.errMsg)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	c := NewClient("http://example.com", "", time.Second)
	ctx := context.Background()

	checks := map[string]error{
		"PressKey":      c.PressKey(ctx, "F13"),
		"Fill":          c.Fill(ctx, " ", "x"),
		"ClickSelector": c.ClickSelector(ctx, ""),
		"ClickText":     c.ClickText(ctx, "button", ""),
		"Navigate":      c.Navigate(ctx, ""),
	}
	for name, err := range checks {
		if code := ErrorCode(err); code != CodeValidation {
			t.Fatalf("%s code = %q; want %q", name, code, CodeValidation)
		}
	}
	if _, err := c.Screenshot(ctx, "gif", 0); ErrorCode(err) != CodeValidation {
		t.Fatalf("Screenshot(gif) code = %q; want %q", ErrorCode(err), CodeValidation)
	}
}

func TestShouldRetry(t *testing.T) {
	c := &Client{}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("boom"), false},
		{"cdp_unavailable", newError(CodeCDPUnavailable, "x", nil), true},
		{"page_not_found", newError(CodePageNotFound, "x", nil), false},
		{"eval_no_cause", newError(CodeEvalFailure, "x", nil), false},
		{"eval_transient", newError(CodeEvalFailure, "x", errors.New("websocket: close 1006")), true},
		{"eval_context_destroyed", newError(CodeEvalFailure, "x", errors.New("Execution context was destroyed.")), true},
		{"eval_permanent", newError(CodeEvalFailure, "x", errors.New("ReferenceError: foo")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.shouldRetry(tt.err); got != tt.want {
				t.Fatalf("shouldRetry() = %v; want %v", got, tt.want)
			}
		})
	}
}
