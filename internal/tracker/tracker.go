// Package tracker keeps the rolling per-contract history of accepted
// extractions.
package tracker

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/extract"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultCap = 100
	MaxCap     = 200
)

// DataPoint is one accepted extraction.
type DataPoint struct {
	Key       string         `json:"key" csv:"key"`
	Type      string         `json:"type" csv:"type"`
	Cents     int            `json:"cents" csv:"cents"`
	Quote     extract.Quote  `json:"quote" csv:"-"`
	Source    extract.Source `json:"source,omitempty" csv:"source"`
	Timestamp time.Time      `json:"timestamp" csv:"timestamp"`
	RunID     string         `json:"run_id,omitempty" csv:"run_id"`
}

// Contract is the latest view of one tracked contract.
type Contract struct {
	Key       string        `json:"key"`
	Type      string        `json:"type"`
	Cents     int           `json:"cents"`
	Latest    extract.Quote `json:"latest"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
	Samples   int           `json:"samples"`
}

// Summary describes the premium across a contract's history.
type Summary struct {
	Key     string  `json:"key"`
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Tracker is safe for concurrent use. Readers receive copies that share no
// quote pointers with the tracker.
type Tracker struct {
	mu        sync.RWMutex
	cap       int
	history   map[string][]DataPoint
	contracts map[string]*Contract
}

// New returns a Tracker keeping at most limit points per contract. limit is
// clamped to MaxCap; zero or less selects DefaultCap.
func New(limit int) *Tracker {
	switch {
	case limit <= 0:
		limit = DefaultCap
	case limit > MaxCap:
		limit = MaxCap
	}
	return &Tracker{
		cap:       limit,
		history:   make(map[string][]DataPoint),
		contracts: make(map[string]*Contract),
	}
}

// Cap returns the per-contract history limit.
func (t *Tracker) Cap() int { return t.cap }

// Record appends dp to its contract's history, dropping the oldest points
// beyond the cap. It reports whether the contract was seen for the first
// time.
func (t *Tracker) Record(dp DataPoint) (Contract, bool) {
	if dp.Key == "" {
		dp.Key = ContractKey{Type: dp.Type, Cents: dp.Cents}.String()
	}
	dp.Quote = dp.Quote.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[dp.Key], dp)
	if over := len(h) - t.cap; over > 0 {
		// Copy down so the dropped prefix can be collected.
		h = append(h[:0:0], h[over:]...)
	}
	t.history[dp.Key] = h

	c, ok := t.contracts[dp.Key]
	if !ok {
		c = &Contract{Key: dp.Key, Type: dp.Type, Cents: dp.Cents, FirstSeen: dp.Timestamp}
		t.contracts[dp.Key] = c
		slog.Info("tracker new contract", "key", dp.Key)
	}
	c.Latest = dp.Quote
	c.LastSeen = dp.Timestamp
	c.Samples++
	return copyContract(*c), !ok
}

// Load replaces the tracker state with a saved history, oldest first. It is
// used to resume from the last snapshot.
func (t *Tracker) Load(history map[string][]DataPoint) {
	t.mu.Lock()
	t.history = make(map[string][]DataPoint, len(history))
	t.contracts = make(map[string]*Contract, len(history))
	t.mu.Unlock()

	keys := make([]string, 0, len(history))
	for k := range history {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, dp := range history[k] {
			if dp.Key == "" {
				dp.Key = k
			}
			t.Record(dp)
		}
	}
}

// Contracts returns all tracked contracts sorted by key.
func (t *Tracker) Contracts() []Contract {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Contract, 0, len(t.contracts))
	for _, c := range t.contracts {
		out = append(out, copyContract(*c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Contract returns one contract.
func (t *Tracker) Contract(key string) (Contract, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.contracts[key]
	if !ok {
		return Contract{}, false
	}
	return copyContract(*c), true
}

// History returns up to limit of the most recent points, oldest first. A
// non-positive limit returns everything.
func (t *Tracker) History(key string, limit int) []DataPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.history[key]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return copyPoints(h)
}

// All returns every history, keyed by contract.
func (t *Tracker) All() map[string][]DataPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]DataPoint, len(t.history))
	for k, h := range t.history {
		out[k] = copyPoints(h)
	}
	return out
}

// Keys returns the tracked keys in sorted order.
func (t *Tracker) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.history))
	for k := range t.history {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary computes premium statistics over the key's history. ok is false
// when the key is unknown.
func (t *Tracker) Summary(key string) (Summary, bool) {
	t.mu.RLock()
	h, ok := t.history[key]
	premiums := make([]float64, 0, len(h))
	for _, dp := range h {
		if p, ok := dp.Quote.Premium(); ok {
			premiums = append(premiums, p)
		}
	}
	t.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}

	s := Summary{Key: key, Samples: len(premiums)}
	if len(premiums) == 0 {
		return s, true
	}
	s.Mean, s.StdDev = stat.MeanStdDev(premiums, nil)
	if math.IsNaN(s.StdDev) {
		s.StdDev = 0
	}
	s.Min = floats.Min(premiums)
	s.Max = floats.Max(premiums)
	return s, true
}

func copyContract(c Contract) Contract {
	c.Latest = c.Latest.Clone()
	return c
}

func copyPoints(h []DataPoint) []DataPoint {
	out := make([]DataPoint, len(h))
	for i, dp := range h {
		dp.Quote = dp.Quote.Clone()
		out[i] = dp
	}
	return out
}
