package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/dgnsrekt/chainscout/internal/expansion"
	"github.com/dgnsrekt/chainscout/internal/extract"
	"github.com/dgnsrekt/chainscout/internal/locator"
	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/google/uuid"
)

// maxBoxesPerContract bounds how many matching elements are clicked for one
// price before giving up on the DOM path.
const maxBoxesPerContract = 3

// Options tunes a Scanner.
type Options struct {
	CentLow      int
	CentHigh     int
	MaxContracts int
	SideTabs     map[string]string
	Families     []string
	Strategies   []locator.Strategy
	MinBoxWidth  float64
	MinBoxHeight float64
	// Settle is how long to wait after a click before reading the page.
	Settle            time.Duration
	ScreenshotOnClick bool
}

// RoundResult summarises one ScanSide call.
type RoundResult struct {
	Side       string              `json:"side"`
	RunID      string              `json:"run_id"`
	Found      int                 `json:"found"`
	Cents      []int               `json:"cents,omitempty"`
	Attempted  int                 `json:"attempted"`
	Accepted   int                 `json:"accepted"`
	Skipped    int                 `json:"skipped"`
	Errors     []string            `json:"errors,omitempty"`
	NewKeys    []string            `json:"new_keys,omitempty"`
	Points     []tracker.DataPoint `json:"points,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	DurationMS int64               `json:"duration_ms"`
}

// Scanner performs scan rounds against one shared page.
type Scanner struct {
	browser   Browser
	opts      Options
	verifier  expansion.Verifier
	extractor *extract.Extractor
	tracker   *tracker.Tracker
	sink      tracker.Sink
	breaker   *Breaker
	shots     Shots

	// pageMu serialises every multi-step page sequence; all rounds share
	// one tab.
	pageMu *sync.Mutex
	now    func() time.Time
}

func NewScanner(browser Browser, opts Options, verifier expansion.Verifier, extractor *extract.Extractor, tr *tracker.Tracker, sink tracker.Sink, breaker *Breaker) *Scanner {
	if opts.CentLow <= 0 {
		opts.CentLow = 8
	}
	if opts.CentHigh <= 0 {
		opts.CentHigh = 16
	}
	if opts.MaxContracts <= 0 {
		opts.MaxContracts = 3
	}
	if len(opts.SideTabs) == 0 {
		opts.SideTabs = map[string]string{tracker.TypeCall: "Call", tracker.TypePut: "Put"}
	}
	if len(opts.Families) == 0 {
		opts.Families = locator.SelectorFamilies()
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = locator.DefaultStrategies()
	}
	if breaker == nil {
		breaker = NewBreaker(0, 0)
	}
	return &Scanner{
		browser:   browser,
		opts:      opts,
		verifier:  verifier,
		extractor: extractor,
		tracker:   tr,
		sink:      sink,
		breaker:   breaker,
		pageMu:    &sync.Mutex{},
		now:       time.Now,
	}
}

// WithShots enables before/after click screenshots when ScreenshotOnClick
// is set.
func (s *Scanner) WithShots(shots Shots) *Scanner {
	s.shots = shots
	return s
}

// Breaker exposes the scanner's circuit breaker.
func (s *Scanner) Breaker() *Breaker { return s.breaker }

// ScanSide runs one round for one option type. Only environment failures
// are returned as errors; per-contract failures are listed in the result.
func (s *Scanner) ScanSide(ctx context.Context, side string) (RoundResult, error) {
	if !tracker.ValidType(side) {
		return RoundResult{}, cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("unknown side %q", side), nil)
	}
	res := RoundResult{Side: side, RunID: uuid.NewString(), StartedAt: s.now().UTC()}

	s.pageMu.Lock()
	err := s.scanLocked(ctx, side, &res)
	s.pageMu.Unlock()

	// Sinks may be slow; publish without holding the page.
	for _, dp := range res.Points {
		if s.sink != nil {
			_ = s.sink.Publish(ctx, dp)
		}
	}
	res.DurationMS = s.now().Sub(res.StartedAt).Milliseconds()
	if err != nil {
		return res, err
	}
	slog.Info("monitor round done", "side", side, "run_id", res.RunID, "found", res.Found,
		"attempted", res.Attempted, "accepted", res.Accepted, "skipped", res.Skipped, "duration_ms", res.DurationMS)
	return res, nil
}

func (s *Scanner) scanLocked(ctx context.Context, side string, res *RoundResult) error {
	if label := s.opts.SideTabs[side]; label != "" {
		if err := s.browser.ClickText(ctx, "", label); err != nil {
			if fatal(err) {
				return err
			}
			slog.Warn("monitor side tab click failed", "side", side, "label", label, "error", err)
		} else if err := sleepCtx(ctx, s.opts.Settle); err != nil {
			return err
		}
	}

	text, err := s.browser.VisibleText(ctx)
	if err != nil {
		return fmt.Errorf("monitor: read chain: %w", err)
	}
	cents := locator.ScanCents(text, s.opts.CentLow, s.opts.CentHigh)
	res.Found = len(cents)
	res.Cents = cents
	if len(cents) == 0 {
		slog.Debug("monitor no contracts in range", "side", side, "low", s.opts.CentLow, "high", s.opts.CentHigh)
		return nil
	}

	for _, c := range cents {
		if res.Attempted >= s.opts.MaxContracts {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		key := tracker.ContractKey{Type: side, Cents: c}.String()
		if !s.breaker.Allow(key, s.now()) {
			res.Skipped++
			continue
		}
		res.Attempted++

		dp, err := s.scanContract(ctx, side, c, res.RunID)
		if err != nil {
			if fatal(err) {
				return err
			}
			if s.breaker.Failure(key, s.now()) {
				slog.Warn("monitor breaker open", "key", key)
			}
			slog.Info("monitor contract failed", "key", key, "code", cdpcontrol.ErrorCode(err), "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		s.breaker.Success(key)
		if s.tracker != nil {
			if _, isNew := s.tracker.Record(dp); isNew {
				res.NewKeys = append(res.NewKeys, key)
			}
		}
		res.Points = append(res.Points, dp)
		res.Accepted++
	}
	return nil
}

// scanContract expands one contract and extracts it. Strategies are tried
// per matching element; the in-page scan is the last resort.
func (s *Scanner) scanContract(ctx context.Context, side string, cents int, runID string) (tracker.DataPoint, error) {
	key := tracker.ContractKey{Type: side, Cents: cents}.String()
	price := locator.PriceText(cents)

	before, err := s.browser.Content(ctx)
	if err != nil {
		return tracker.DataPoint{}, err
	}

	boxes, err := s.browser.FindPriceElements(ctx, price, s.opts.Families, s.opts.MinBoxWidth, s.opts.MinBoxHeight)
	if err != nil && fatal(err) {
		return tracker.DataPoint{}, err
	}
	lastErr := err
	tried := 0
	for _, eb := range boxes {
		box := locator.Box{X: eb.X, Y: eb.Y, Width: eb.Width, Height: eb.Height}
		if !box.Plausible(s.opts.MinBoxWidth, s.opts.MinBoxHeight) {
			continue
		}
		if tried == maxBoxesPerContract {
			break
		}
		tried++
		for _, strat := range s.opts.Strategies {
			pt := locator.ClickPoint(box, strat)
			s.shot(ctx, "before_click", key)
			if err := s.browser.ClickAt(ctx, pt.X, pt.Y); err != nil {
				if fatal(err) {
					return tracker.DataPoint{}, err
				}
				lastErr = err
				continue
			}
			dp, expanded, err := s.afterClick(ctx, side, cents, runID, before)
			if err != nil && fatal(err) {
				return tracker.DataPoint{}, err
			}
			if expanded {
				slog.Debug("monitor expanded", "key", key, "family", eb.Family, "strategy", strat.String())
				return dp, err
			}
		}
	}

	// Fallback: let the page find and click the text itself.
	scan, err := s.browser.ScanClickText(ctx, price)
	if err != nil {
		if fatal(err) {
			return tracker.DataPoint{}, err
		}
		if lastErr == nil {
			lastErr = err
		}
	}
	if scan.Clicked {
		dp, expanded, err := s.afterClick(ctx, side, cents, runID, before)
		if expanded || (err != nil && fatal(err)) {
			return dp, err
		}
	}

	if len(boxes) == 0 && !scan.Clicked {
		return tracker.DataPoint{}, cdpcontrol.NewError(cdpcontrol.CodeElementNotFound, "no clickable element for "+price, lastErr)
	}
	return tracker.DataPoint{}, cdpcontrol.NewError(cdpcontrol.CodeExtractionFailed, "contract "+key+" did not expand", lastErr)
}

// afterClick waits for the page to settle and, when the click expanded the
// contract, extracts it and collapses the panel. expanded is true whenever
// the panel opened, even if extraction then failed.
func (s *Scanner) afterClick(ctx context.Context, side string, cents int, runID, before string) (tracker.DataPoint, bool, error) {
	key := tracker.ContractKey{Type: side, Cents: cents}.String()
	if err := sleepCtx(ctx, s.opts.Settle); err != nil {
		return tracker.DataPoint{}, false, err
	}
	after, err := s.browser.Content(ctx)
	if err != nil {
		return tracker.DataPoint{}, false, err
	}
	v := s.verifier.Verify(before, after)
	if !v.Expanded {
		return tracker.DataPoint{}, false, nil
	}
	s.shot(ctx, "after_click", key)
	defer s.collapse(ctx, key)

	labels, err := s.browser.LabeledValues(ctx, s.extractor.Labels())
	if err != nil {
		if fatal(err) {
			return tracker.DataPoint{}, true, err
		}
		slog.Debug("monitor label read failed", "key", key, "error", err)
	}
	text, err := s.browser.VisibleText(ctx)
	if err != nil && fatal(err) {
		return tracker.DataPoint{}, true, err
	}

	out := s.extractor.Run(labels, text, after)
	if len(out.Dropped) > 0 {
		slog.Info("monitor sanitised fields", "key", key, "dropped", out.Dropped)
	}
	if !out.Accepted {
		return tracker.DataPoint{}, true, cdpcontrol.NewError(cdpcontrol.CodeExtractionFailed,
			fmt.Sprintf("only %d fields for %s (need %d)", out.Quote.Count(), key, s.extractor.MinFields()), nil)
	}
	return tracker.DataPoint{
		Key:       key,
		Type:      side,
		Cents:     cents,
		Quote:     out.Quote,
		Source:    out.Source,
		Timestamp: s.now().UTC(),
		RunID:     runID,
	}, true, nil
}

func (s *Scanner) collapse(ctx context.Context, key string) {
	if err := s.browser.PressKey(ctx, "Escape"); err != nil {
		slog.Debug("monitor collapse failed", "key", key, "error", err)
	}
}

func (s *Scanner) shot(ctx context.Context, reason, key string) {
	if !s.opts.ScreenshotOnClick || s.shots == nil {
		return
	}
	img, err := s.browser.Screenshot(ctx, "png", 0)
	if err != nil {
		slog.Debug("monitor screenshot failed", "reason", reason, "error", err)
		return
	}
	if err := s.shots.SaveShot(ctx, reason, key, img); err != nil {
		slog.Warn("monitor screenshot save failed", "reason", reason, "error", err)
	}
}

// fatal reports errors that end the round rather than the candidate: the
// browser is gone or the context ended.
func fatal(err error) bool {
	if err == nil {
		return false
	}
	switch cdpcontrol.ErrorCode(err) {
	case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodePageNotFound:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
