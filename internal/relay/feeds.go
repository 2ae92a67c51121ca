package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/chainscout/internal/tracker"
)

const (
	FeedDataPoint = "datapoint"
	FeedBias      = "bias"
	FeedStatus    = "status"
)

// Feeds lists every feed the server emits.
var Feeds = []string{FeedDataPoint, FeedBias, FeedStatus}

// PublishJSON encodes v and publishes it on feed.
func (b *Broker) PublishJSON(feed string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", feed, err)
	}
	b.Publish(Event{Feed: feed, Payload: string(data)})
	return nil
}

// Sink publishes accepted data points on the datapoint feed.
type Sink struct {
	broker *Broker
}

func NewSink(b *Broker) *Sink { return &Sink{broker: b} }

// Publish implements tracker.Sink. It is a no-op without listeners.
func (s *Sink) Publish(_ context.Context, dp tracker.DataPoint) error {
	if s.broker.ClientCount() == 0 {
		return nil
	}
	if err := s.broker.PublishJSON(FeedDataPoint, dp); err != nil {
		slog.Debug("relay datapoint dropped", "key", dp.Key, "error", err)
		return err
	}
	return nil
}
