package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/chainscout/internal/tracker"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublishUsesKeySubject(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "options.spy.")
	dp := tracker.DataPoint{Key: "call_08", Type: "call", Cents: 8, Timestamp: time.Unix(1700000000, 0).UTC()}
	if err := p.Publish(context.Background(), dp); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fc.subjects) != 1 || fc.subjects[0] != "options.spy.call_08" {
		t.Fatalf("subjects = %v", fc.subjects)
	}
	var got tracker.DataPoint
	if err := json.Unmarshal(fc.payloads[0], &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Key != "call_08" || got.Cents != 8 {
		t.Fatalf("payload = %+v", got)
	}
	if err := p.Close(); err != nil || !fc.drained {
		t.Fatalf("Close() = %v, drained = %v", err, fc.drained)
	}
}

func TestDefaultSubjectAndErrors(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(fc, " ")
	if got := p.Subject("put_10"); got != "chainscout.datapoints.put_10" {
		t.Fatalf("Subject() = %s", got)
	}
	if err := p.Publish(context.Background(), tracker.DataPoint{Key: "put_10"}); err == nil {
		t.Fatalf("Publish() error = nil")
	}
}
