// Package journal persists an audit record per lock-pipeline run.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Run is one pipeline run outcome.
type Run struct {
	ID          string   `db:"id"`
	Symbol      string   `db:"symbol"`
	BuyPrice    *float64 `db:"buy_price"`
	SellPrice   *float64 `db:"sell_price"`
	EventTimeMs int64    `db:"event_time_ms"`
	Orders      int      `db:"orders"`
	Deals       int      `db:"deals"`
	Logins      int      `db:"logins"`
	Status      string   `db:"status"`
	Error       string   `db:"error"`
}

// Run statuses.
const (
	StatusLocked  = "locked"   // all stages completed
	StatusNothing = "nothing"  // no matching exposure
	StatusFailed  = "failed"   // a stage was abandoned
	StatusDropped = "dropped"  // job never ran (queue full)
)

// Journal records pipeline runs. Recording is best effort: a journal failure
// never fails the pipeline.
type Journal interface {
	Record(ctx context.Context, run Run) error
	Close() error
}

type pgJournal struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and returns a journal over it.
func Open(dsn string, timeout time.Duration) (Journal, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	return NewWithDB(db, timeout), nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sqlx.DB, timeout time.Duration) Journal {
	return &pgJournal{db: db, timeout: timeout}
}

// Record inserts one run row.
func (j *pgJournal) Record(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		INSERT INTO lock_runs (id, symbol, buy_price, sell_price, event_time_ms, orders, deals, logins, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`

	_, err := j.db.ExecContext(ctx, query,
		run.ID, run.Symbol, run.BuyPrice, run.SellPrice, run.EventTimeMs,
		run.Orders, run.Deals, run.Logins, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("failed to insert lock run: %w", err)
	}
	return nil
}

func (j *pgJournal) Close() error {
	return j.db.Close()
}

// Nop is a journal that records nothing, used when persistence is disabled.
type Nop struct{}

func (Nop) Record(ctx context.Context, run Run) error { return nil }
func (Nop) Close() error                              { return nil }
