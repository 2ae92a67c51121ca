package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTransformURLToPathSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://robinhood.com/", "root"},
		{"https://robinhood.com/options/chains/SPY", "options_chains_SPY"},
		{"https://robinhood.com/options/chains/SPY/?side=call", "options_chains_SPY"},
	}
	for _, tt := range tests {
		got, err := TransformURLToPathSegment(tt.in)
		if err != nil {
			t.Fatalf("TransformURLToPathSegment(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("TransformURLToPathSegment(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesAnyAndAPIResource(t *testing.T) {
	hints := []string{"marketdata", "Options"}
	if !MatchesAny("https://api.robinhood.com/marketdata/options/?ids=1", hints) {
		t.Fatalf("MatchesAny() = false; want true")
	}
	if MatchesAny("https://robinhood.com/static/app.js", hints) {
		t.Fatalf("MatchesAny() = true for static asset; want false")
	}
	if !MatchesAny("anything", nil) {
		t.Fatalf("MatchesAny(nil hints) = false; want true")
	}
	if !IsAPIResource("Fetch") || IsAPIResource("Script") {
		t.Fatalf("IsAPIResource mismatch")
	}
	if got := BrowserIDFromTargetID("B0D5A8E8FFFF"); got != "B0D5A8E8" {
		t.Fatalf("BrowserIDFromTargetID() = %q", got)
	}
}

func TestJSONLWriterWritesDatedLines(t *testing.T) {
	dir := t.TempDir()
	w := NewNamedJSONLWriter(dir, "stream/datapoints", 8, 1, "chainscout")
	fixed := time.Date(2025, 10, 17, 14, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	path := filepath.Join(dir, "2025-10-17", "stream", "datapoints", "chainscout.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]int
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d invalid JSON: %v", lines, err)
		}
		if rec["n"] != lines {
			t.Fatalf("line %d n = %d; want %d", lines, rec["n"], lines)
		}
		lines++
	}
	if lines != 3 {
		t.Fatalf("lines = %d; want 3", lines)
	}

	written, dropped := w.Stats()
	if written != 3 || dropped != 0 {
		t.Fatalf("Stats() = (%d, %d); want (3, 0)", written, dropped)
	}
	if err := w.Write("late"); err != ErrClosed {
		t.Fatalf("Write after Close = %v; want ErrClosed", err)
	}
}

func TestWriterRegistryReusesWriters(t *testing.T) {
	r := NewWriterRegistry(t.TempDir(), 4, 1)
	defer r.Close()

	a := r.GetWriter("stream/datapoints", "chainscout")
	b := r.GetWriter("stream/datapoints", "chainscout")
	c := r.GetWriter("captures/root/http", "B0D5A8E8")
	if a != b {
		t.Fatalf("GetWriter returned distinct writers for the same key")
	}
	if a == c {
		t.Fatalf("GetWriter returned the same writer for different keys")
	}
}
