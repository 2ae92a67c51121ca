package monitor

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/dgnsrekt/chainscout/internal/expansion"
	"github.com/dgnsrekt/chainscout/internal/extract"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

const detailText = "Bid: 0.08 Ask: 0.09 Volume: 14,029 Theta: -0.1305"

// fakeBrowser models a chain page where clicking left of expandBelowX on a
// price row opens that contract's detail panel.
type fakeBrowser struct {
	mu sync.Mutex

	chainText    string
	boxes        map[string][]cdpcontrol.ElementBox
	expandBelowX map[string]float64
	labels       map[string]string
	scanExpands  bool
	visibleErr   error

	expanded   string
	clicks     []float64
	escapes    int
	tabClicks  []string
	scanClicks []string
	shots      int
}

func newChain(text string) *fakeBrowser {
	return &fakeBrowser{
		chainText:    text,
		boxes:        map[string][]cdpcontrol.ElementBox{},
		expandBelowX: map[string]float64{},
		labels:       map[string]string{"Bid": "$0.08", "Ask": "$0.09", "Volume": "14,029", "Mark": "$0.085"},
	}
}

func (b *fakeBrowser) row(price string, y, expandBelow float64) {
	b.boxes[price] = append(b.boxes[price], cdpcontrol.ElementBox{Family: "tr", Text: price, X: 100, Y: y, Width: 200, Height: 30})
	b.expandBelowX[price] = expandBelow
}

func (b *fakeBrowser) ClickText(_ context.Context, _, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabClicks = append(b.tabClicks, label)
	return nil
}

func (b *fakeBrowser) ClickAt(_ context.Context, x, y float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clicks = append(b.clicks, x)
	for price, list := range b.boxes {
		for _, box := range list {
			if y >= box.Y && y <= box.Y+box.Height && x < b.expandBelowX[price] {
				b.expanded = price
				return nil
			}
		}
	}
	return nil
}

func (b *fakeBrowser) PressKey(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if key == "Escape" {
		b.escapes++
		b.expanded = ""
	}
	return nil
}

func (b *fakeBrowser) VisibleText(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.visibleErr != nil {
		return "", b.visibleErr
	}
	if b.expanded != "" {
		return detailText, nil
	}
	return b.chainText, nil
}

func (b *fakeBrowser) Content(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expanded != "" {
		return "<div>Theta Gamma Delta Vega Bid Ask Volume " + b.expanded + "</div>", nil
	}
	return "<table>" + b.chainText + "</table>", nil
}

func (b *fakeBrowser) FindPriceElements(_ context.Context, price string, _ []string, _, _ float64) ([]cdpcontrol.ElementBox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.boxes[price]
	if len(list) == 0 {
		return nil, cdpcontrol.NewError(cdpcontrol.CodeElementNotFound, "no element for "+price, nil)
	}
	return append([]cdpcontrol.ElementBox(nil), list...), nil
}

func (b *fakeBrowser) ScanClickText(_ context.Context, price string) (cdpcontrol.ScanClickResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanClicks = append(b.scanClicks, price)
	if b.scanExpands {
		b.expanded = price
		return cdpcontrol.ScanClickResult{Clicked: true, Tag: "TR", Text: price}, nil
	}
	return cdpcontrol.ScanClickResult{}, nil
}

func (b *fakeBrowser) LabeledValues(context.Context, []string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expanded == "" {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(b.labels))
	for k, v := range b.labels {
		out[k] = v
	}
	return out, nil
}

func (b *fakeBrowser) Screenshot(context.Context, string, int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shots++
	return []byte("png"), nil
}

type collectSink struct {
	mu     sync.Mutex
	points []tracker.DataPoint
}

func (c *collectSink) Publish(_ context.Context, dp tracker.DataPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, dp)
	return nil
}

type shotRecorder struct {
	reasons []string
}

func (s *shotRecorder) SaveShot(_ context.Context, reason, _ string, _ []byte) error {
	s.reasons = append(s.reasons, reason)
	return nil
}

func newTestScanner(b Browser, opts Options, tr *tracker.Tracker, sink tracker.Sink, br *Breaker) *Scanner {
	return NewScanner(b, opts, expansion.New(nil, 0), extract.MustNew(extract.Options{}), tr, sink, br)
}

func TestScanSideRecordsAcceptedContracts(t *testing.T) {
	b := newChain("Call $0.05 $0.08 $0.12 $0.12 $0.30")
	b.row("$0.08", 10, 130)
	b.row("$0.12", 50, 130)
	tr := tracker.New(100)
	sink := &collectSink{}
	s := newTestScanner(b, Options{}, tr, sink, nil)

	res, err := s.ScanSide(context.Background(), tracker.TypeCall)
	if err != nil {
		t.Fatalf("ScanSide() error = %v", err)
	}
	if res.Found != 2 || res.Attempted != 2 || res.Accepted != 2 {
		t.Fatalf("result = %+v; want found/attempted/accepted 2/2/2", res)
	}
	if keys := tr.Keys(); len(keys) != 2 || keys[0] != "call_08" || keys[1] != "call_12" {
		t.Fatalf("tracker keys = %v", keys)
	}
	if len(res.NewKeys) != 2 {
		t.Fatalf("NewKeys = %v; want both contracts new", res.NewKeys)
	}
	if len(sink.points) != 2 || sink.points[0].RunID != res.RunID {
		t.Fatalf("published = %+v", sink.points)
	}
	dp := sink.points[0]
	if dp.Source != extract.SourceDOM || *dp.Quote.Bid != 0.08 || *dp.Quote.Ask != 0.09 || *dp.Quote.Volume != 14029 {
		t.Fatalf("data point = %+v", dp)
	}
	if b.escapes != 2 {
		t.Fatalf("escapes = %d; want one collapse per contract", b.escapes)
	}
	if len(b.tabClicks) != 1 || b.tabClicks[0] != "Call" {
		t.Fatalf("tab clicks = %v", b.tabClicks)
	}

	again, err := s.ScanSide(context.Background(), tracker.TypeCall)
	if err != nil {
		t.Fatalf("second ScanSide() error = %v", err)
	}
	if again.Accepted != 2 || len(again.NewKeys) != 0 {
		t.Fatalf("second round = %+v; want no new keys", again)
	}
}

func TestScanSideTriesStrategiesInOrder(t *testing.T) {
	b := newChain("Put $0.09")
	// Only a click left of the row (the pixel-offset strategy) expands.
	b.row("$0.09", 10, 99)
	s := newTestScanner(b, Options{}, tracker.New(10), nil, nil)

	res, err := s.ScanSide(context.Background(), tracker.TypePut)
	if err != nil || res.Accepted != 1 {
		t.Fatalf("ScanSide() = %+v, %v", res, err)
	}
	want := []float64{120, 130, 140, 160, 50}
	if len(b.clicks) != len(want) {
		t.Fatalf("clicks = %v; want %v", b.clicks, want)
	}
	for i := range want {
		if math.Abs(b.clicks[i]-want[i]) > 1e-9 {
			t.Fatalf("clicks = %v; want %v", b.clicks, want)
		}
	}
	if len(b.scanClicks) != 0 {
		t.Fatalf("fallback used although a strategy worked")
	}
}

func TestScanSideFallsBackToInPageScan(t *testing.T) {
	b := newChain("Call $0.10")
	b.scanExpands = true
	s := newTestScanner(b, Options{}, tracker.New(10), nil, nil)

	res, err := s.ScanSide(context.Background(), tracker.TypeCall)
	if err != nil || res.Accepted != 1 {
		t.Fatalf("ScanSide() = %+v, %v", res, err)
	}
	if len(b.scanClicks) != 1 || b.scanClicks[0] != "$0.10" {
		t.Fatalf("scan clicks = %v", b.scanClicks)
	}
}

func TestScanSideMergesTextWhenLabelsSparse(t *testing.T) {
	b := newChain("Call $0.08")
	b.row("$0.08", 10, 130)
	b.labels = map[string]string{"Bid": "0.08"}
	s := newTestScanner(b, Options{}, tracker.New(10), nil, nil)

	res, err := s.ScanSide(context.Background(), tracker.TypeCall)
	if err != nil {
		t.Fatalf("ScanSide() error = %v", err)
	}
	if res.Accepted != 1 {
		t.Fatalf("Accepted = %d; want 1", res.Accepted)
	}
	dp := res.Points[0]
	if dp.Source != extract.SourceText || dp.Quote.Theta == nil || *dp.Quote.Theta != -0.1305 {
		t.Fatalf("data point = %+v; want text-sourced quote with theta", dp)
	}
}

func TestBreakerSkipsFailingContract(t *testing.T) {
	b := newChain("Call $0.14")
	tr := tracker.New(10)
	s := newTestScanner(b, Options{}, tr, nil, NewBreaker(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := s.ScanSide(ctx, tracker.TypeCall)
		if err != nil {
			t.Fatalf("round %d error = %v", i, err)
		}
		if res.Attempted != 1 || len(res.Errors) != 1 {
			t.Fatalf("round %d = %+v; want one failed attempt", i, res)
		}
	}
	res, err := s.ScanSide(ctx, tracker.TypeCall)
	if err != nil {
		t.Fatalf("round 3 error = %v", err)
	}
	if res.Attempted != 0 || res.Skipped != 1 {
		t.Fatalf("round 3 = %+v; want key skipped", res)
	}
	if open := s.Breaker().Open(time.Now()); len(open) != 1 {
		t.Fatalf("open breakers = %v", open)
	}
}

func TestScanSideLimitsContractsPerRound(t *testing.T) {
	b := newChain("$0.08 $0.09 $0.10 $0.11")
	for i, p := range []string{"$0.08", "$0.09", "$0.10", "$0.11"} {
		b.row(p, float64(10+40*i), 130)
	}
	s := newTestScanner(b, Options{MaxContracts: 2}, tracker.New(10), nil, nil)

	res, err := s.ScanSide(context.Background(), tracker.TypeCall)
	if err != nil {
		t.Fatalf("ScanSide() error = %v", err)
	}
	if res.Found != 4 || res.Attempted != 2 || res.Accepted != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestScanSideScreenshots(t *testing.T) {
	b := newChain("Call $0.08")
	b.row("$0.08", 10, 130)
	shots := &shotRecorder{}
	s := newTestScanner(b, Options{ScreenshotOnClick: true}, tracker.New(10), nil, nil).WithShots(shots)

	if _, err := s.ScanSide(context.Background(), tracker.TypeCall); err != nil {
		t.Fatalf("ScanSide() error = %v", err)
	}
	if len(shots.reasons) != 2 || shots.reasons[0] != "before_click" || shots.reasons[1] != "after_click" {
		t.Fatalf("shots = %v", shots.reasons)
	}
}

func TestScanSideErrors(t *testing.T) {
	s := newTestScanner(newChain(""), Options{}, nil, nil, nil)
	if _, err := s.ScanSide(context.Background(), "straddle"); cdpcontrol.ErrorCode(err) != cdpcontrol.CodeValidation {
		t.Fatalf("ScanSide(bad side) error = %v; want VALIDATION", err)
	}

	b := newChain("")
	b.visibleErr = cdpcontrol.NewError(cdpcontrol.CodeCDPUnavailable, "browser gone", nil)
	s = newTestScanner(b, Options{}, nil, nil, nil)
	if _, err := s.ScanSide(context.Background(), tracker.TypeCall); cdpcontrol.ErrorCode(err) != cdpcontrol.CodeCDPUnavailable {
		t.Fatalf("ScanSide() error = %v; want CDP_UNAVAILABLE", err)
	}
}

func TestMonitorStartStop(t *testing.T) {
	b := newChain("no prices here")
	m := New(newTestScanner(b, Options{}, tracker.New(10), nil, nil), time.Second)

	var mu sync.Mutex
	rounds := map[string]int{}
	m.OnRound(func(r RoundResult) {
		mu.Lock()
		rounds[r.Side]++
		mu.Unlock()
	})

	if err := m.Start(context.Background(), []string{"both"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background(), nil); cdpcontrol.ErrorCode(err) != cdpcontrol.CodeValidation {
		t.Fatalf("second Start() error = %v; want VALIDATION", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		both := rounds[tracker.TypeCall] > 0 && rounds[tracker.TypePut] > 0
		mu.Unlock()
		if both {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rounds = %v; want both sides scanned", rounds)
		}
		time.Sleep(5 * time.Millisecond)
	}

	st := m.Status()
	if !st.Running || len(st.Sides) != 2 || len(st.PerSide) != 2 {
		t.Fatalf("Status() = %+v", st)
	}
	m.Stop()
	if m.Running() {
		t.Fatalf("Running() after Stop = true")
	}
	m.Stop()
}

func TestMonitorResetsWhenParentContextEnds(t *testing.T) {
	b := newChain("no prices here")
	m := New(newTestScanner(b, Options{}, tracker.New(10), nil, nil), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx, []string{tracker.TypeCall}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for m.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("Running() = true after the parent context ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := m.Status(); st.Running || st.StartedAt != nil {
		t.Fatalf("Status() = %+v; want stopped", st)
	}

	if err := m.Start(context.Background(), []string{tracker.TypePut}); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	if !m.Running() {
		t.Fatalf("Running() after restart = false")
	}
	m.Stop()
}

func TestTriggerOnceUpdatesStatus(t *testing.T) {
	b := newChain("Put $0.08")
	b.row("$0.08", 10, 130)
	m := New(newTestScanner(b, Options{}, tracker.New(10), nil, nil), time.Second)

	res, err := m.TriggerOnce(context.Background(), tracker.TypePut)
	if err != nil || res.Accepted != 1 {
		t.Fatalf("TriggerOnce() = %+v, %v", res, err)
	}
	st := m.Status()
	if st.Running || len(st.PerSide) != 1 || st.PerSide[0].Accepted != 1 {
		t.Fatalf("Status() = %+v", st)
	}
	if st.PerSide[0].LastRound.Points != nil {
		t.Fatalf("status carries data points")
	}
}

func TestNormalizeSides(t *testing.T) {
	tests := []struct {
		in      []string
		want    []string
		wantErr bool
	}{
		{nil, []string{"call", "put"}, false},
		{[]string{"both"}, []string{"call", "put"}, false},
		{[]string{"puts"}, []string{"put"}, false},
		{[]string{"call", "calls", "put"}, []string{"call", "put"}, false},
		{[]string{"iron_condor"}, nil, true},
	}
	for _, tt := range tests {
		got, err := NormalizeSides(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("NormalizeSides(%v) error = %v", tt.in, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("NormalizeSides(%v) = %v; want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("NormalizeSides(%v) = %v; want %v", tt.in, got, tt.want)
			}
		}
	}
}

func TestBreakerCooldown(t *testing.T) {
	br := NewBreaker(3, time.Minute)
	now := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if br.Failure("call_08", now) {
			t.Fatalf("tripped early at failure %d", i+1)
		}
	}
	br.Success("call_08")
	for i := 0; i < 3; i++ {
		br.Failure("call_08", now)
	}
	if br.Allow("call_08", now.Add(30*time.Second)) {
		t.Fatalf("Allow() during cooldown = true")
	}
	if !br.Allow("call_08", now.Add(time.Minute)) {
		t.Fatalf("Allow() after cooldown = false")
	}
	if br.Failure("call_08", now) {
		t.Fatalf("failure count not reset after cooldown")
	}
}
