package cdpcontrol

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/target"
)

func TestCloseDetachesAndForgetsPages(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	chain := &tabSession{info: PageInfo{TargetID: "chain-tab"}, sessionID: "session-1"}
	client := &Client{
		cdp:   &rawCDP{},
		tabs:  map[target.ID]*tabSession{"chain-tab": chain},
		order: []target.ID{"chain-tab"},
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.Contains(buf.String(), "detach cleanup failed") {
		t.Fatalf("expected detach cleanup debug log, got %q", buf.String())
	}
	if chain.sessionID != "" {
		t.Fatalf("sessionID = %q; want cleared", chain.sessionID)
	}
	if len(client.tabs) != 0 || client.order != nil || client.cdp != nil {
		t.Fatalf("client not reset: tabs=%d order=%v", len(client.tabs), client.order)
	}
}
