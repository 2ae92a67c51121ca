package store

import (
	"fmt"
	"io"
	"time"

	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/gocarina/gocsv"
	"github.com/jinzhu/copier"
)

// csvRow is the flat export shape. Nil fields export as empty cells.
type csvRow struct {
	Timestamp    string   `csv:"timestamp"`
	Key          string   `csv:"key"`
	Type         string   `csv:"type"`
	Cents        int      `csv:"cents"`
	RunID        string   `csv:"run_id"`
	Source       string   `csv:"source"`
	CurrentPrice *float64 `csv:"current_price"`
	Bid          *float64 `csv:"bid"`
	Ask          *float64 `csv:"ask"`
	Volume       *float64 `csv:"volume"`
	OpenInterest *float64 `csv:"open_interest"`
	Strike       *float64 `csv:"strike"`
	Expiration   string   `csv:"expiration"`
	Theta        *float64 `csv:"theta"`
	Gamma        *float64 `csv:"gamma"`
	Delta        *float64 `csv:"delta"`
	Vega         *float64 `csv:"vega"`
	High         *float64 `csv:"high"`
	Low          *float64 `csv:"low"`
	IV           *float64 `csv:"iv"`
}

// ExportCSV writes points with a header row.
func ExportCSV(w io.Writer, points []tracker.DataPoint) error {
	rows := make([]*csvRow, 0, len(points))
	for _, dp := range points {
		row := &csvRow{
			Timestamp: dp.Timestamp.UTC().Format(time.RFC3339),
			Key:       dp.Key,
			Type:      dp.Type,
			Cents:     dp.Cents,
			RunID:     dp.RunID,
			Source:    string(dp.Source),
		}
		if err := copier.Copy(row, &dp.Quote); err != nil {
			return fmt.Errorf("store: csv row %s: %w", dp.Key, err)
		}
		rows = append(rows, row)
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("store: write csv: %w", err)
	}
	return nil
}
