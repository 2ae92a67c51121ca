package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/dgnsrekt/chainscout/internal/extract"
	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, limit int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	c := NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), limit)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func dp(key string, bid float64, at time.Time) tracker.DataPoint {
	var q extract.Quote
	q.Set(extract.FieldBid, bid)
	return tracker.DataPoint{Key: key, Type: tracker.TypeCall, Cents: 8, Quote: q, Timestamp: at}
}

func TestRedisPublishCapsHistory(t *testing.T) {
	c, mr := newTestCache(t, 3)
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	base := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := c.Publish(ctx, dp("call_08", 0.08+float64(i)/100, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Publish(%d) error = %v", i, err)
		}
	}

	items, err := mr.List("chainscout:history:call_08")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("history len = %d; want 3", len(items))
	}

	hist, err := c.History(ctx, "call_08", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(hist) != 3 || !hist[0].Timestamp.Equal(base.Add(2*time.Second)) || !hist[2].Timestamp.Equal(base.Add(4*time.Second)) {
		t.Fatalf("history = %+v; want last three oldest first", hist)
	}

	latest, ok, err := c.Latest(ctx, "call_08")
	if err != nil || !ok {
		t.Fatalf("Latest() = %v, %v", ok, err)
	}
	if bid, _ := latest.Quote.Get(extract.FieldBid); bid < 0.119 || bid > 0.121 {
		t.Fatalf("latest bid = %v; want 0.12", bid)
	}
}

func TestRedisLatestMissing(t *testing.T) {
	c, _ := newTestCache(t, 0)
	_, ok, err := c.Latest(context.Background(), "put_16")
	if err != nil || ok {
		t.Fatalf("Latest(missing) = %v, %v; want false, nil", ok, err)
	}
	hist, err := c.History(context.Background(), "put_16", 10)
	if err != nil || len(hist) != 0 {
		t.Fatalf("History(missing) = %v, %v", hist, err)
	}
}
