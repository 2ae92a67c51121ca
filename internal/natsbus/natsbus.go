// Package natsbus publishes accepted data points on NATS core subjects.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "chainscout.datapoints"

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends each data point as JSON on <prefix>.<contract key>.
type Publisher struct {
	nc     conn
	prefix string
}

// Connect dials url (nats.DefaultURL when empty) with unlimited reconnects.
func Connect(url, subject string) (*Publisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("chainscout"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("natsbus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("natsbus reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(nc conn, subject string) *Publisher {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, prefix: subject}
}

// Subject returns the subject a contract key is published on.
func (p *Publisher) Subject(key string) string {
	return p.prefix + "." + key
}

// Publish implements tracker.Sink.
func (p *Publisher) Publish(_ context.Context, dp tracker.DataPoint) error {
	data, err := json.Marshal(dp)
	if err != nil {
		return fmt.Errorf("natsbus: encode %s: %w", dp.Key, err)
	}
	if err := p.nc.Publish(p.Subject(dp.Key), data); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", dp.Key, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
