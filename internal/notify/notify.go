// Package notify posts plain-text alerts to an ntfy topic.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Send posts message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Notifier sends to a fixed endpoint. The zero endpoint disables it.
type Notifier struct {
	client   *http.Client
	endpoint string
	title    string
}

func New(endpoint string) *Notifier {
	return &Notifier{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: strings.TrimSpace(endpoint),
		title:    "chainscout",
	}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// Notify sends msg prefixed with the notifier title. Failures are logged
// and returned.
func (n *Notifier) Notify(ctx context.Context, msg string) error {
	if !n.Enabled() {
		slog.Debug("notify skipped, no endpoint", "message", msg)
		return nil
	}
	if err := Send(ctx, n.client, n.endpoint, n.title+": "+msg); err != nil {
		slog.Warn("notify failed", "error", err)
		return err
	}
	return nil
}
