package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

// SideStatus is the running tally for one side.
type SideStatus struct {
	Side      string       `json:"side"`
	Rounds    int          `json:"rounds"`
	Accepted  int          `json:"accepted"`
	Failures  int          `json:"failures"`
	LastRound *RoundResult `json:"last_round,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Running      bool                 `json:"running"`
	Sides        []string             `json:"sides"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	IntervalMS   int64                `json:"interval_ms"`
	PerSide      []SideStatus         `json:"per_side"`
	OpenBreakers map[string]time.Time `json:"open_breakers,omitempty"`
}

// Monitor runs one scan goroutine per tracked side. The goroutines share
// the scanner's page lock, so rounds never overlap on the tab.
type Monitor struct {
	scanner  *Scanner
	interval time.Duration
	onRound  func(RoundResult)

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	sides     []string
	startedAt time.Time
	stats     map[string]*SideStatus
}

func New(scanner *Scanner, interval time.Duration) *Monitor {
	if interval < time.Second {
		interval = time.Second
	}
	return &Monitor{scanner: scanner, interval: interval, stats: make(map[string]*SideStatus)}
}

// OnRound registers a callback invoked after every round, loop or manual.
// It must not block.
func (m *Monitor) OnRound(fn func(RoundResult)) {
	m.mu.Lock()
	m.onRound = fn
	m.mu.Unlock()
}

// Start launches the loops. ctx bounds their lifetime in addition to Stop.
func (m *Monitor) Start(ctx context.Context, sides []string) error {
	sides, err := NormalizeSides(sides)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, "monitor already running", nil)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.sides = sides
	m.startedAt = time.Now().UTC()

	var wg sync.WaitGroup
	for _, side := range sides {
		wg.Add(1)
		go func(side string) {
			defer wg.Done()
			m.loop(loopCtx, side)
		}(side)
	}
	go func() {
		wg.Wait()
		close(done)
		// Loops also end when the parent ctx does; forget them so Running
		// reports false and Start works again.
		m.mu.Lock()
		if m.done == done {
			m.cancel, m.done = nil, nil
			slog.Info("monitor loops ended", "reason", context.Cause(loopCtx))
		}
		m.mu.Unlock()
		cancel()
	}()

	slog.Info("monitor started", "sides", sides, "interval", m.interval)
	return nil
}

// Stop cancels the loops and waits for the in-flight rounds to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("monitor stopped")
}

// Running reports whether loops are active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Status returns counters per side and the open breakers.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := Status{
		Running:    m.cancel != nil,
		Sides:      append([]string(nil), m.sides...),
		IntervalMS: m.interval.Milliseconds(),
	}
	if st.Running {
		started := m.startedAt
		st.StartedAt = &started
	}
	for _, s := range m.stats {
		cp := *s
		if s.LastRound != nil {
			r := *s.LastRound
			r.Points = nil
			cp.LastRound = &r
		}
		st.PerSide = append(st.PerSide, cp)
	}
	m.mu.Unlock()

	sort.Slice(st.PerSide, func(i, j int) bool { return st.PerSide[i].Side < st.PerSide[j].Side })
	if open := m.scanner.Breaker().Open(time.Now()); len(open) > 0 {
		st.OpenBreakers = open
	}
	return st
}

// TriggerOnce runs a single round now. It waits for any round in progress
// to release the page.
func (m *Monitor) TriggerOnce(ctx context.Context, side string) (RoundResult, error) {
	res, err := m.scanner.ScanSide(ctx, side)
	m.record(side, res, err)
	return res, err
}

func (m *Monitor) loop(ctx context.Context, side string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		res, err := m.scanner.ScanSide(ctx, side)
		if ctx.Err() != nil {
			return
		}
		m.record(side, res, err)
		if err != nil {
			slog.Error("monitor round failed", "side", side, "code", cdpcontrol.ErrorCode(err), "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) record(side string, res RoundResult, err error) {
	if !tracker.ValidType(side) {
		return
	}
	m.mu.Lock()
	s, ok := m.stats[side]
	if !ok {
		s = &SideStatus{Side: side}
		m.stats[side] = s
	}
	s.Rounds++
	s.Accepted += res.Accepted
	s.Failures += len(res.Errors)
	r := res
	s.LastRound = &r
	s.LastError = ""
	if err != nil {
		s.Failures++
		s.LastError = err.Error()
	}
	fn := m.onRound
	m.mu.Unlock()

	if fn != nil {
		fn(res)
	}
}

// NormalizeSides validates and de-duplicates sides. "both" expands to call
// and put; an empty list means both.
func NormalizeSides(sides []string) ([]string, error) {
	if len(sides) == 0 {
		return []string{tracker.TypeCall, tracker.TypePut}, nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range sides {
		var add []string
		switch s {
		case "both":
			add = []string{tracker.TypeCall, tracker.TypePut}
		case "calls", tracker.TypeCall:
			add = []string{tracker.TypeCall}
		case "puts", tracker.TypePut:
			add = []string{tracker.TypePut}
		default:
			return nil, cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("unknown side %q", s), nil)
		}
		for _, a := range add {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out, nil
}
