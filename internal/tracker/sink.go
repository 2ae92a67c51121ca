package tracker

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives accepted data points.
type Sink interface {
	Publish(ctx context.Context, dp DataPoint) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, dp DataPoint) error

func (f SinkFunc) Publish(ctx context.Context, dp DataPoint) error { return f(ctx, dp) }

type namedSink struct {
	name string
	sink Sink
}

// MultiSink fans a point out to every registered sink. A failing sink is
// logged and does not stop the others.
type MultiSink struct {
	mu    sync.RWMutex
	sinks []namedSink
}

func NewMultiSink() *MultiSink {
	return &MultiSink{}
}

// Add registers a sink under name. Nil sinks are ignored.
func (m *MultiSink) Add(name string, s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
	m.mu.Unlock()
}

// Names lists registered sinks in order.
func (m *MultiSink) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		out[i] = s.name
	}
	return out
}

// Publish delivers dp to every sink in order. Failures are logged, never
// returned.
func (m *MultiSink) Publish(ctx context.Context, dp DataPoint) error {
	m.mu.RLock()
	sinks := append([]namedSink(nil), m.sinks...)
	m.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Publish(ctx, dp); err != nil {
			slog.Warn("sink publish failed", "sink", s.name, "key", dp.Key, "error", err)
		}
	}
	return nil
}
