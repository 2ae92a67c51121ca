package influx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/chainscout/internal/extract"
	"github.com/dgnsrekt/chainscout/internal/tracker"
	client "github.com/influxdata/influxdb1-client/v2"
)

type fakeClient struct {
	client.Client
	batches []client.BatchPoints
	err     error
	closed  bool
}

func (f *fakeClient) Write(bp client.BatchPoints) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, bp)
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func sample(key string, cents int) tracker.DataPoint {
	var q extract.Quote
	q.Set(extract.FieldBid, 0.08)
	q.Set(extract.FieldAsk, 0.09)
	q.Expiration = "2026-10-23"
	return tracker.DataPoint{
		Key: key, Type: tracker.TypePut, Cents: cents, Quote: q,
		Source: extract.SourceText, Timestamp: time.Unix(1760886000, 0),
	}
}

func TestFieldsDereferencesAndOmitsNil(t *testing.T) {
	f := Fields(sample("put_08", 8))
	if f["bid"] != 0.08 || f["ask"] != 0.09 {
		t.Fatalf("fields = %v", f)
	}
	if _, ok := f["theta"]; ok {
		t.Fatalf("nil theta present: %v", f)
	}
	if f["expiration"] != "2026-10-23" || f["source"] != "text" {
		t.Fatalf("fields = %v", f)
	}
}

func TestWriterBatches(t *testing.T) {
	fc := &fakeClient{}
	w := newWriter(fc, "options", 2)
	ctx := context.Background()

	if err := w.Publish(ctx, sample("put_08", 8)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fc.batches) != 0 || w.Pending() != 1 {
		t.Fatalf("batches = %d, pending = %d", len(fc.batches), w.Pending())
	}
	if err := w.Publish(ctx, sample("put_09", 9)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fc.batches) != 1 || w.Pending() != 0 {
		t.Fatalf("batches = %d, pending = %d", len(fc.batches), w.Pending())
	}
	bp := fc.batches[0]
	if bp.Database() != "options" || len(bp.Points()) != 2 {
		t.Fatalf("batch db = %s, points = %d", bp.Database(), len(bp.Points()))
	}
	line := bp.Points()[0].String()
	if !strings.HasPrefix(line, "option_quotes,cents=8,key=put_08,type=put ") {
		t.Fatalf("line = %s", line)
	}

	if err := w.Publish(ctx, sample("put_10", 10)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(fc.batches) != 2 || !fc.closed {
		t.Fatalf("batches = %d, closed = %v", len(fc.batches), fc.closed)
	}
}

func TestWriterFlushError(t *testing.T) {
	fc := &fakeClient{err: errors.New("connection refused")}
	w := newWriter(fc, "options", 10)
	_ = w.Publish(context.Background(), sample("put_08", 8))
	if err := w.Flush(context.Background()); err == nil {
		t.Fatalf("Flush() error = nil")
	}
	if w.Pending() != 0 {
		t.Fatalf("pending after failed flush = %d", w.Pending())
	}
}
