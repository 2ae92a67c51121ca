// Package influx writes accepted quotes to InfluxDB 1.x as the
// option_quotes measurement.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/fatih/structs"
	client "github.com/influxdata/influxdb1-client/v2"
)

const (
	Measurement      = "option_quotes"
	DefaultBatchSize = 20
)

// quoteFields is the flat field set of one point. Nil fields are omitted.
type quoteFields struct {
	CurrentPrice *float64 `structs:"current_price,omitempty"`
	Bid          *float64 `structs:"bid,omitempty"`
	Ask          *float64 `structs:"ask,omitempty"`
	Volume       *float64 `structs:"volume,omitempty"`
	OpenInterest *float64 `structs:"open_interest,omitempty"`
	Strike       *float64 `structs:"strike,omitempty"`
	Expiration   string   `structs:"expiration,omitempty"`
	Theta        *float64 `structs:"theta,omitempty"`
	Gamma        *float64 `structs:"gamma,omitempty"`
	Delta        *float64 `structs:"delta,omitempty"`
	Vega         *float64 `structs:"vega,omitempty"`
	High         *float64 `structs:"high,omitempty"`
	Low          *float64 `structs:"low,omitempty"`
	IV           *float64 `structs:"iv,omitempty"`
	Source       string   `structs:"source,omitempty"`
	RunID        string   `structs:"run_id,omitempty"`
}

// Writer batches points and writes them when the batch fills or on Flush.
type Writer struct {
	client    client.Client
	database  string
	batchSize int

	mu      sync.Mutex
	pending []*client.Point
}

// NewWriter connects to an InfluxDB 1.x HTTP endpoint.
func NewWriter(addr, database, user, password string) (*Writer, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     addr,
		Username: user,
		Password: password,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("influx: client: %w", err)
	}
	return newWriter(c, database, DefaultBatchSize), nil
}

func newWriter(c client.Client, database string, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{client: c, database: database, batchSize: batchSize}
}

// Fields returns the influx field map for dp.
func Fields(dp tracker.DataPoint) map[string]interface{} {
	q := dp.Quote
	m := structs.Map(quoteFields{
		CurrentPrice: q.CurrentPrice,
		Bid:          q.Bid,
		Ask:          q.Ask,
		Volume:       q.Volume,
		OpenInterest: q.OpenInterest,
		Strike:       q.Strike,
		Expiration:   q.Expiration,
		Theta:        q.Theta,
		Gamma:        q.Gamma,
		Delta:        q.Delta,
		Vega:         q.Vega,
		High:         q.High,
		Low:          q.Low,
		IV:           q.IV,
		Source:       string(dp.Source),
		RunID:        dp.RunID,
	})
	// The line protocol takes values, not pointers.
	for k, v := range m {
		if p, ok := v.(*float64); ok {
			m[k] = *p
		}
	}
	return m
}

// Publish implements tracker.Sink.
func (w *Writer) Publish(ctx context.Context, dp tracker.DataPoint) error {
	fields := Fields(dp)
	if len(fields) == 0 {
		return nil
	}
	tags := map[string]string{
		"key":   dp.Key,
		"type":  dp.Type,
		"cents": strconv.Itoa(dp.Cents),
	}
	ts := dp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pt, err := client.NewPoint(Measurement, tags, fields, ts)
	if err != nil {
		return fmt.Errorf("influx: point %s: %w", dp.Key, err)
	}

	w.mu.Lock()
	w.pending = append(w.pending, pt)
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes pending points. Points are dropped when the write fails.
func (w *Writer) Flush(_ context.Context) error {
	w.mu.Lock()
	pts := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(pts) == 0 {
		return nil
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  w.database,
		Precision: "ms",
	})
	if err != nil {
		return fmt.Errorf("influx: batch: %w", err)
	}
	for _, pt := range pts {
		bp.AddPoint(pt)
	}
	if err := w.client.Write(bp); err != nil {
		slog.Warn("influx write failed", "points", len(pts), "error", err)
		return fmt.Errorf("influx: write %d points: %w", len(pts), err)
	}
	return nil
}

// Pending returns the number of buffered points.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close flushes and closes the client.
func (w *Writer) Close() error {
	flushErr := w.Flush(context.Background())
	if err := w.client.Close(); err != nil {
		return err
	}
	return flushErr
}
