package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfileMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if got, want := p.ChainURL, DefaultProfile().ChainURL; got != want {
		t.Fatalf("ChainURL = %q; want %q", got, want)
	}
	if len(p.MFAInputs) != 4 {
		t.Fatalf("MFAInputs = %d entries; want 4", len(p.MFAInputs))
	}
}

func TestLoadProfileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	body := `
chain_url: https://broker.example/chains/{symbol}
expansion_keywords: [theta, bid]
click_strategies:
  - fraction: 0.25
  - offset_px: 40
patterns:
  bid:
    - 'Bid\s+(\d+\.\d+)'
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if got, want := p.ChainURL, "https://broker.example/chains/{symbol}"; got != want {
		t.Fatalf("ChainURL = %q; want %q", got, want)
	}
	if len(p.ClickStrategies) != 2 || p.ClickStrategies[1].OffsetPX != 40 {
		t.Fatalf("ClickStrategies = %+v", p.ClickStrategies)
	}
	if got := p.Patterns["bid"]; len(got) != 1 {
		t.Fatalf("Patterns[bid] = %v; want one entry", got)
	}
	// Untouched keys keep their defaults.
	if p.Login.Submit == "" {
		t.Fatalf("Login.Submit lost its default")
	}
}

func TestLoadProfileRejectsBadFraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("click_strategies:\n  - fraction: 1.5\n"), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("LoadProfile() error = nil; want fraction error")
	}
}

func TestValidateClampsAndRejects(t *testing.T) {
	cfg := &Config{
		EvalTimeoutMS:  10,
		ScanIntervalMS: 10,
		HistoryCap:     500,
		CentLow:        8,
		CentHigh:       16,
		RecorderDriver: "sqlite",
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if cfg.EvalTimeoutMS != 1000 || cfg.ScanIntervalMS != 1000 {
		t.Fatalf("timeouts not clamped: eval=%d scan=%d", cfg.EvalTimeoutMS, cfg.ScanIntervalMS)
	}
	if cfg.HistoryCap != 200 {
		t.Fatalf("HistoryCap = %d; want 200", cfg.HistoryCap)
	}

	bad := &Config{CentLow: 20, CentHigh: 10, RecorderDriver: "sqlite"}
	if err := bad.validate(); err == nil {
		t.Fatalf("validate() error = nil; want cent range error")
	}

	side := &Config{CentLow: 8, CentHigh: 16, RecorderDriver: "sqlite", Sides: []string{"straddle"}}
	if err := side.validate(); err == nil {
		t.Fatalf("validate() error = nil; want side error")
	}
}

func TestChainURLSubstitutesSymbol(t *testing.T) {
	cfg := &Config{Underlying: "QQQ", Profile: DefaultProfile()}
	if got, want := cfg.ChainURL(), "https://robinhood.com/options/chains/QQQ"; got != want {
		t.Fatalf("ChainURL() = %q; want %q", got, want)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" Call, put ,,")
	if len(got) != 2 || got[0] != "call" || got[1] != "put" {
		t.Fatalf("splitList() = %v; want [call put]", got)
	}
}
