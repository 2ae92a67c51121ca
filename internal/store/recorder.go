package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/extract"
	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/jinzhu/copier"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Recorder keeps every accepted data point.
type Recorder interface {
	RecordPoint(ctx context.Context, dp tracker.DataPoint) error
	Contracts(ctx context.Context) ([]ContractRow, error)
	Points(ctx context.Context, key string, since time.Time, limit int) ([]tracker.DataPoint, error)
	Close() error
}

// ContractRow is one row of the contracts table with its point count.
type ContractRow struct {
	Key        string    `json:"key"`
	OptionType string    `json:"option_type"`
	Cents      int       `json:"cents"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Points     int       `json:"points"`
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordPoint(context.Context, tracker.DataPoint) error { return nil }
func (Noop) Contracts(context.Context) ([]ContractRow, error)     { return nil, nil }
func (Noop) Points(context.Context, string, time.Time, int) ([]tracker.DataPoint, error) {
	return nil, nil
}
func (Noop) Close() error { return nil }

// AsSink lets a Recorder receive points from a tracker.MultiSink.
func AsSink(r Recorder) tracker.Sink {
	return tracker.SinkFunc(r.RecordPoint)
}

// Open returns the recorder for driver: "sqlite", "postgres" or "none".
func Open(driver, dsn string) (Recorder, error) {
	switch driver {
	case "", "none":
		return Noop{}, nil
	case "sqlite", "postgres":
		return OpenSQL(driver, dsn)
	}
	return nil, fmt.Errorf("store: unsupported recorder driver %q", driver)
}

// SQLRecorder writes to SQLite (WAL) or Postgres through sqlx.
type SQLRecorder struct {
	db     *sqlx.DB
	driver string
	mu     sync.Mutex
}

// OpenSQL opens (or creates) the database and runs migrations.
func OpenSQL(driver, dsn string) (*SQLRecorder, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create db dir: %w", err)
			}
		}
		db, err = sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		// WAL lets API reads proceed while the monitor writes.
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("store: %s: %w", pragma, err)
			}
		}
	case "postgres":
		db, err = sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: connect postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("store: unsupported sql driver %q", driver)
	}

	r := &SQLRecorder{db: db, driver: driver}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	slog.Info("store recorder opened", "driver", driver)
	return r, nil
}

func (r *SQLRecorder) migrate() error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.driver == "postgres" {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			key         TEXT PRIMARY KEY,
			option_type TEXT NOT NULL,
			cents       INTEGER NOT NULL,
			first_seen  BIGINT NOT NULL,
			last_seen   BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS data_points (
			` + idColumn + `,
			contract_key  TEXT NOT NULL REFERENCES contracts(key),
			ts            BIGINT NOT NULL,
			run_id        TEXT NOT NULL DEFAULT '',
			source        TEXT NOT NULL DEFAULT '',
			current_price DOUBLE PRECISION,
			bid           DOUBLE PRECISION,
			ask           DOUBLE PRECISION,
			volume        DOUBLE PRECISION,
			open_interest DOUBLE PRECISION,
			strike        DOUBLE PRECISION,
			expiration    TEXT NOT NULL DEFAULT '',
			theta         DOUBLE PRECISION,
			gamma         DOUBLE PRECISION,
			delta         DOUBLE PRECISION,
			vega          DOUBLE PRECISION,
			high          DOUBLE PRECISION,
			low           DOUBLE PRECISION,
			iv            DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_points_key_ts ON data_points(contract_key, ts)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", strings.Fields(s)[:3], err)
		}
	}
	return nil
}

// pointRow mirrors data_points. Quote fields share names with
// extract.Quote so copier can move them across.
type pointRow struct {
	ID          int64  `db:"id"`
	ContractKey string `db:"contract_key"`
	TS          int64  `db:"ts"`
	RunID       string `db:"run_id"`
	Source      string `db:"source"`

	CurrentPrice *float64 `db:"current_price"`
	Bid          *float64 `db:"bid"`
	Ask          *float64 `db:"ask"`
	Volume       *float64 `db:"volume"`
	OpenInterest *float64 `db:"open_interest"`
	Strike       *float64 `db:"strike"`
	Expiration   string   `db:"expiration"`
	Theta        *float64 `db:"theta"`
	Gamma        *float64 `db:"gamma"`
	Delta        *float64 `db:"delta"`
	Vega         *float64 `db:"vega"`
	High         *float64 `db:"high"`
	Low          *float64 `db:"low"`
	IV           *float64 `db:"iv"`
}

type contractRow struct {
	Key        string `db:"key"`
	OptionType string `db:"option_type"`
	Cents      int    `db:"cents"`
	FirstSeen  int64  `db:"first_seen"`
	LastSeen   int64  `db:"last_seen"`
	Points     int    `db:"points"`
}

// RecordPoint upserts the contract and appends the point in one
// transaction.
func (r *SQLRecorder) RecordPoint(ctx context.Context, dp tracker.DataPoint) error {
	key := dp.Key
	if key == "" {
		key = tracker.ContractKey{Type: dp.Type, Cents: dp.Cents}.String()
	}
	ts := dp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	row := pointRow{ContractKey: key, TS: ts.UnixMilli(), RunID: dp.RunID, Source: string(dp.Source)}
	if err := copier.Copy(&row, &dp.Quote); err != nil {
		return fmt.Errorf("store: map point: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `INSERT INTO contracts (key, option_type, cents, first_seen, last_seen)
		VALUES (:key, :option_type, :cents, :first_seen, :last_seen)
		ON CONFLICT (key) DO UPDATE SET last_seen = excluded.last_seen`,
		contractRow{Key: key, OptionType: dp.Type, Cents: dp.Cents, FirstSeen: row.TS, LastSeen: row.TS}); err != nil {
		return fmt.Errorf("store: upsert contract %s: %w", key, err)
	}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO data_points
		(contract_key, ts, run_id, source, current_price, bid, ask, volume, open_interest, strike,
		 expiration, theta, gamma, delta, vega, high, low, iv)
		VALUES (:contract_key, :ts, :run_id, :source, :current_price, :bid, :ask, :volume, :open_interest, :strike,
		 :expiration, :theta, :gamma, :delta, :vega, :high, :low, :iv)`, row); err != nil {
		return fmt.Errorf("store: insert point %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Contracts lists every recorded contract with its point count.
func (r *SQLRecorder) Contracts(ctx context.Context) ([]ContractRow, error) {
	var rows []contractRow
	err := r.db.SelectContext(ctx, &rows, `SELECT c.key, c.option_type, c.cents, c.first_seen, c.last_seen,
		COUNT(p.id) AS points
		FROM contracts c LEFT JOIN data_points p ON p.contract_key = c.key
		GROUP BY c.key, c.option_type, c.cents, c.first_seen, c.last_seen
		ORDER BY c.key`)
	if err != nil {
		return nil, fmt.Errorf("store: list contracts: %w", err)
	}
	out := make([]ContractRow, len(rows))
	for i, c := range rows {
		out[i] = ContractRow{
			Key:        c.Key,
			OptionType: c.OptionType,
			Cents:      c.Cents,
			FirstSeen:  time.UnixMilli(c.FirstSeen).UTC(),
			LastSeen:   time.UnixMilli(c.LastSeen).UTC(),
			Points:     c.Points,
		}
	}
	return out, nil
}

// Points returns the most recent points for key at or after since, oldest
// first. An empty key selects every contract; a non-positive limit returns
// everything.
func (r *SQLRecorder) Points(ctx context.Context, key string, since time.Time, limit int) ([]tracker.DataPoint, error) {
	q := `SELECT * FROM data_points WHERE ts >= ?`
	args := []any{since.UnixMilli()}
	if key != "" {
		q += ` AND contract_key = ?`
		args = append(args, key)
	}
	q += ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	var rows []pointRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("store: select points: %w", err)
	}

	out := make([]tracker.DataPoint, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		dp := tracker.DataPoint{
			Key:       row.ContractKey,
			Source:    extract.Source(row.Source),
			Timestamp: time.UnixMilli(row.TS).UTC(),
			RunID:     row.RunID,
		}
		if k, err := tracker.ParseContractKey(row.ContractKey); err == nil {
			dp.Type, dp.Cents = k.Type, k.Cents
		}
		if err := copier.Copy(&dp.Quote, &row); err != nil {
			return nil, fmt.Errorf("store: map row %d: %w", row.ID, err)
		}
		out = append(out, dp)
	}
	return out, nil
}

// Close closes the database.
func (r *SQLRecorder) Close() error {
	return r.db.Close()
}
