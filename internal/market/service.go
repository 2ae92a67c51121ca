package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Reading is one bias computation.
type Reading struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price,omitempty"`
	RSI1m      float64   `json:"rsi_1m"`
	RSI5m      float64   `json:"rsi_5m"`
	Bias       Bias      `json:"bias"`
	Strength1m string    `json:"strength_1m"`
	Strength5m string    `json:"strength_5m"`
	At         time.Time `json:"at"`
}

// Service refreshes and caches the latest Reading.
type Service struct {
	fetcher Fetcher
	symbol  string
	period  int
	now     func() time.Time

	mu       sync.RWMutex
	latest   *Reading
	onUpdate func(Reading)
}

func NewService(fetcher Fetcher, symbol string, period int) *Service {
	if period < 2 {
		period = 14
	}
	return &Service{fetcher: fetcher, symbol: symbol, period: period, now: time.Now}
}

// OnUpdate registers a callback for every successful refresh.
func (s *Service) OnUpdate(fn func(Reading)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Refresh fetches 1m and 5m closes over five days and classifies them.
func (s *Service) Refresh(ctx context.Context) (Reading, error) {
	c1, err := s.fetcher.Closes(ctx, s.symbol, "1m", "5d")
	if err != nil {
		return Reading{}, fmt.Errorf("market: 1m closes: %w", err)
	}
	c5, err := s.fetcher.Closes(ctx, s.symbol, "5m", "5d")
	if err != nil {
		return Reading{}, fmt.Errorf("market: 5m closes: %w", err)
	}

	r := Reading{
		Symbol: s.symbol,
		RSI1m:  RSI(c1, s.period),
		RSI5m:  RSI(c5, s.period),
		At:     s.now().UTC(),
	}
	if len(c1) > 0 {
		r.Price = c1[len(c1)-1]
	}
	r.Bias = Classify(r.RSI1m, r.RSI5m)
	r.Strength1m = Strength(r.RSI1m)
	r.Strength5m = Strength(r.RSI5m)

	s.mu.Lock()
	s.latest = &r
	fn := s.onUpdate
	s.mu.Unlock()

	slog.Info("market bias refreshed", "symbol", s.symbol, "rsi_1m", r.RSI1m, "rsi_5m", r.RSI5m, "bias", r.Bias)
	if fn != nil {
		fn(r)
	}
	return r, nil
}

// Latest returns the last reading, if any.
func (s *Service) Latest() (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Reading{}, false
	}
	return *s.latest, true
}
