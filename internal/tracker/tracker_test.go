package tracker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dgnsrekt/chainscout/internal/extract"
)

func f(v float64) *float64 { return &v }

func point(key ContractKey, ts time.Time, price float64) DataPoint {
	return DataPoint{
		Type:      key.Type,
		Cents:     key.Cents,
		Quote:     extract.Quote{CurrentPrice: f(price), Bid: f(price - 0.01), Ask: f(price + 0.01)},
		Timestamp: ts,
		RunID:     "run-1",
	}
}

func TestContractKey(t *testing.T) {
	k := ContractKey{Type: TypeCall, Cents: 8}
	if got := k.String(); got != "call_08" {
		t.Fatalf("String() = %q; want call_08", got)
	}
	parsed, err := ParseContractKey("PUT_12")
	if err != nil || parsed != (ContractKey{Type: TypePut, Cents: 12}) {
		t.Fatalf("ParseContractKey() = %+v, %v", parsed, err)
	}
	for _, bad := range []string{"", "call", "strangle_08", "call_xx", "put_0", "put_100"} {
		if _, err := ParseContractKey(bad); err == nil {
			t.Fatalf("ParseContractKey(%q) error = nil", bad)
		}
	}
}

func TestRecordCapsHistoryDroppingOldest(t *testing.T) {
	tr := New(10)
	key := ContractKey{Type: TypeCall, Cents: 9}
	base := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		_, isNew := tr.Record(point(key, base.Add(time.Duration(i)*time.Second), 0.09))
		if isNew != (i == 0) {
			t.Fatalf("Record(%d) isNew = %v", i, isNew)
		}
	}

	h := tr.History("call_09", 0)
	if len(h) != 10 {
		t.Fatalf("len(History) = %d; want 10", len(h))
	}
	if !h[0].Timestamp.Equal(base.Add(15 * time.Second)) {
		t.Fatalf("oldest kept = %v; want point 15", h[0].Timestamp)
	}
	if !h[9].Timestamp.Equal(base.Add(24 * time.Second)) {
		t.Fatalf("newest = %v; want point 24", h[9].Timestamp)
	}

	c, ok := tr.Contract("call_09")
	if !ok || c.Samples != 25 || !c.FirstSeen.Equal(base) {
		t.Fatalf("Contract() = %+v, %v", c, ok)
	}
	if got := tr.History("call_09", 3); len(got) != 3 || !got[2].Timestamp.Equal(h[9].Timestamp) {
		t.Fatalf("History(limit 3) = %v", got)
	}
}

func TestNewClampsCap(t *testing.T) {
	if got := New(0).Cap(); got != DefaultCap {
		t.Fatalf("New(0).Cap() = %d; want %d", got, DefaultCap)
	}
	if got := New(1000).Cap(); got != MaxCap {
		t.Fatalf("New(1000).Cap() = %d; want %d", got, MaxCap)
	}
}

func TestReadersGetCopies(t *testing.T) {
	tr := New(10)
	dp := point(ContractKey{Type: TypePut, Cents: 12}, time.Now(), 0.12)
	tr.Record(dp)
	*dp.Quote.CurrentPrice = 9

	h := tr.History("put_12", 0)
	*h[0].Quote.CurrentPrice = 7
	c, _ := tr.Contract("put_12")
	*c.Latest.Bid = 5

	again, _ := tr.Contract("put_12")
	if *again.Latest.CurrentPrice != 0.12 || math.Abs(*again.Latest.Bid-0.11) > 1e-9 {
		t.Fatalf("tracker state mutated through a copy: %+v", again.Latest)
	}
	if got := *tr.History("put_12", 0)[0].Quote.CurrentPrice; got != 0.12 {
		t.Fatalf("history mutated: %v", got)
	}
}

func TestSummary(t *testing.T) {
	tr := New(10)
	key := ContractKey{Type: TypeCall, Cents: 10}
	now := time.Now()
	for i, p := range []float64{0.08, 0.10, 0.12} {
		tr.Record(point(key, now.Add(time.Duration(i)*time.Second), p))
	}
	// No premium available: ignored by the summary.
	tr.Record(DataPoint{Type: TypeCall, Cents: 10, Quote: extract.Quote{Volume: f(10)}, Timestamp: now})

	s, ok := tr.Summary("call_10")
	if !ok {
		t.Fatalf("Summary() ok = false")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d; want 3", s.Samples)
	}
	if math.Abs(s.Mean-0.10) > 1e-9 || math.Abs(s.StdDev-0.02) > 1e-9 {
		t.Fatalf("mean/stddev = %v/%v; want 0.10/0.02", s.Mean, s.StdDev)
	}
	if s.Min != 0.08 || s.Max != 0.12 {
		t.Fatalf("min/max = %v/%v", s.Min, s.Max)
	}

	tr.Record(point(ContractKey{Type: TypePut, Cents: 8}, now, 0.08))
	single, _ := tr.Summary("put_08")
	if single.StdDev != 0 || single.Mean != 0.08 {
		t.Fatalf("single-sample summary = %+v", single)
	}
	if _, ok := tr.Summary("put_99"); ok {
		t.Fatalf("Summary(unknown) ok = true")
	}
}

func TestLoadRestoresHistory(t *testing.T) {
	src := New(10)
	now := time.Now()
	src.Record(point(ContractKey{Type: TypeCall, Cents: 8}, now, 0.08))
	src.Record(point(ContractKey{Type: TypeCall, Cents: 8}, now.Add(time.Second), 0.09))
	src.Record(point(ContractKey{Type: TypePut, Cents: 14}, now, 0.14))

	dst := New(10)
	dst.Record(point(ContractKey{Type: TypePut, Cents: 16}, now, 0.16))
	dst.Load(src.All())

	if keys := dst.Keys(); len(keys) != 2 || keys[0] != "call_08" || keys[1] != "put_14" {
		t.Fatalf("Keys() = %v", keys)
	}
	if cs := dst.Contracts(); cs[0].Samples != 2 {
		t.Fatalf("Contracts()[0].Samples = %d; want 2", cs[0].Samples)
	}
}

func TestMultiSinkContinuesPastFailures(t *testing.T) {
	m := NewMultiSink()
	var got []string
	m.Add("broken", SinkFunc(func(context.Context, DataPoint) error { return errors.New("down") }))
	m.Add("ok", SinkFunc(func(_ context.Context, dp DataPoint) error {
		got = append(got, dp.Key)
		return nil
	}))
	m.Add("nil", nil)

	if err := m.Publish(context.Background(), DataPoint{Key: "call_08"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(got) != 1 || got[0] != "call_08" {
		t.Fatalf("delivered = %v", got)
	}
	if names := m.Names(); len(names) != 2 {
		t.Fatalf("Names() = %v; want 2 sinks", names)
	}
}
