// Package monitor runs the scrape loop: find priced contracts on the chain,
// expand each one, extract its fields and record the result.
package monitor

import (
	"context"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
)

// Browser is the part of the page driver the scan loop needs.
type Browser interface {
	ClickText(ctx context.Context, tag, label string) error
	ClickAt(ctx context.Context, x, y float64) error
	PressKey(ctx context.Context, key string) error
	VisibleText(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	FindPriceElements(ctx context.Context, priceText string, families []string, minW, minH float64) ([]cdpcontrol.ElementBox, error)
	ScanClickText(ctx context.Context, priceText string) (cdpcontrol.ScanClickResult, error)
	LabeledValues(ctx context.Context, labels []string) (map[string]string, error)
	Screenshot(ctx context.Context, format string, quality int) ([]byte, error)
}

// Shots stores a screenshot taken around a click.
type Shots interface {
	SaveShot(ctx context.Context, reason, contractKey string, image []byte) error
}
