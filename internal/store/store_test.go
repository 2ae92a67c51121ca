package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/chainscout/internal/extract"
	"github.com/dgnsrekt/chainscout/internal/market"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

func point(key string, at time.Time, bid float64) tracker.DataPoint {
	k, _ := tracker.ParseContractKey(key)
	q := extract.Quote{Expiration: "2026-10-23"}
	q.Set(extract.FieldBid, bid)
	q.Set(extract.FieldAsk, bid+0.01)
	q.Set(extract.FieldVolume, 14029)
	return tracker.DataPoint{
		Key:       key,
		Type:      k.Type,
		Cents:     k.Cents,
		Quote:     q,
		Source:    extract.SourceDOM,
		Timestamp: at,
		RunID:     "run-1",
	}
}

func TestJSONStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONStore(dir, 0)

	if _, err := s.LoadLatest(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("LoadLatest() before save error = %v; want ErrNoSnapshot", err)
	}

	at := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	dp := point("call_08", at, 0.08)
	snap := Snapshot{
		RunID:     "run-1",
		SavedAt:   at,
		Contracts: []tracker.Contract{{Key: "call_08", Type: "call", Cents: 8, Latest: dp.Quote, Samples: 1}},
		History:   map[string][]tracker.DataPoint{"call_08": {dp}},
		Bias:      &market.Reading{Symbol: "SPY", Bias: market.Bullish},
	}
	path, err := s.Save(snap)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Base(path) != "contracts_20261019_143000.json" {
		t.Fatalf("path = %s", path)
	}
	info, err := os.Stat(s.LatestPath())
	if err != nil {
		t.Fatalf("stat latest: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("latest perm = %v", info.Mode().Perm())
	}

	got, err := s.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest() error = %v", err)
	}
	hist := got.History["call_08"]
	if len(hist) != 1 {
		t.Fatalf("history = %+v", got.History)
	}
	if bid, ok := hist[0].Quote.Get(extract.FieldBid); !ok || bid != 0.08 {
		t.Fatalf("bid = %v, %v", bid, ok)
	}
	if hist[0].Quote.Expiration != "2026-10-23" || !hist[0].Timestamp.Equal(at) {
		t.Fatalf("point = %+v", hist[0])
	}
	if got.Bias == nil || got.Bias.Bias != market.Bullish {
		t.Fatalf("bias = %+v", got.Bias)
	}
}

func TestJSONStorePrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONStore(dir, 2)
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := s.Save(Snapshot{SavedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
	}
	files, err := s.Files()
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v; want 2", files)
	}
	if filepath.Base(files[0]) != "contracts_20261019_090200.json" {
		t.Fatalf("oldest kept = %s", files[0])
	}
	if _, err := os.Stat(s.LatestPath()); err != nil {
		t.Fatalf("latest.json pruned: %v", err)
	}
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); err == nil || errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("ReadSnapshot(garbage) error = %v", err)
	}
}

func TestSQLRecorderSQLite(t *testing.T) {
	ctx := context.Background()
	r, err := OpenSQL("sqlite", filepath.Join(t.TempDir(), "db", "chain.db"))
	if err != nil {
		t.Fatalf("OpenSQL() error = %v", err)
	}
	defer r.Close()

	base := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	for i, bid := range []float64{0.08, 0.09, 0.10} {
		if err := r.RecordPoint(ctx, point("call_08", base.Add(time.Duration(i)*time.Second), bid)); err != nil {
			t.Fatalf("RecordPoint(%d) error = %v", i, err)
		}
	}
	if err := r.RecordPoint(ctx, point("put_12", base, 0.12)); err != nil {
		t.Fatalf("RecordPoint(put) error = %v", err)
	}

	contracts, err := r.Contracts(ctx)
	if err != nil {
		t.Fatalf("Contracts() error = %v", err)
	}
	if len(contracts) != 2 || contracts[0].Key != "call_08" || contracts[0].Points != 3 {
		t.Fatalf("contracts = %+v", contracts)
	}
	if !contracts[0].FirstSeen.Equal(base) || !contracts[0].LastSeen.Equal(base.Add(2*time.Second)) {
		t.Fatalf("seen window = %v..%v", contracts[0].FirstSeen, contracts[0].LastSeen)
	}

	pts, err := r.Points(ctx, "call_08", time.Time{}, 2)
	if err != nil {
		t.Fatalf("Points() error = %v", err)
	}
	if len(pts) != 2 {
		t.Fatalf("points = %d; want 2", len(pts))
	}
	first, _ := pts[0].Quote.Get(extract.FieldBid)
	last, _ := pts[1].Quote.Get(extract.FieldBid)
	if first != 0.09 || last != 0.10 {
		t.Fatalf("bids = %v, %v; want newest two oldest first", first, last)
	}
	if pts[1].Type != tracker.TypeCall || pts[1].Cents != 8 || pts[1].Source != extract.SourceDOM {
		t.Fatalf("point = %+v", pts[1])
	}
	if pts[1].Quote.Expiration != "2026-10-23" || pts[1].Quote.Theta != nil {
		t.Fatalf("quote = %+v", pts[1].Quote)
	}

	all, err := r.Points(ctx, "", base.Add(time.Second), 0)
	if err != nil {
		t.Fatalf("Points(all) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("points since = %d; want 2", len(all))
	}
}

func TestOpenRecorderDrivers(t *testing.T) {
	r, err := Open("none", "")
	if err != nil {
		t.Fatalf("Open(none) error = %v", err)
	}
	if _, ok := r.(Noop); !ok {
		t.Fatalf("Open(none) = %T", r)
	}
	if err := AsSink(r).Publish(context.Background(), point("put_09", time.Now(), 0.09)); err != nil {
		t.Fatalf("Noop sink error = %v", err)
	}
	if _, err := Open("mysql", ""); err == nil {
		t.Fatalf("Open(mysql) error = nil")
	}
}

func TestExportCSV(t *testing.T) {
	at := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	if err := ExportCSV(&buf, []tracker.DataPoint{point("put_09", at, 0.09)}); err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d; want header + 1", len(records))
	}
	col := map[string]int{}
	for i, h := range records[0] {
		col[h] = i
	}
	row := records[1]
	checks := map[string]string{
		"timestamp":  "2026-10-19T14:00:00Z",
		"key":        "put_09",
		"type":       "put",
		"cents":      "9",
		"bid":        "0.09",
		"expiration": "2026-10-23",
		"theta":      "",
	}
	for name, want := range checks {
		i, ok := col[name]
		if !ok {
			t.Fatalf("missing column %q in %v", name, records[0])
		}
		if row[i] != want {
			t.Fatalf("%s = %q; want %q", name, row[i], want)
		}
	}
}
