// Package sqlite persists confirmed fills and periodic ledger checkpoints.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/portfolio"
)

// Config configures the journal.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/risk.db", or ":memory:"
}

// Journal is a single-connection SQLite store.
type Journal struct {
	db *sql.DB

	// OnCommit is called with the duration of each checkpoint commit.
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; also keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened journal at %s", cfg.DBPath)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id    TEXT    NOT NULL,
			kind        TEXT    NOT NULL,
			token       TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			side        TEXT,
			qty         INTEGER NOT NULL,
			price       TEXT    NOT NULL,
			risk_amount TEXT    NOT NULL DEFAULT '0',
			slippage    TEXT    NOT NULL DEFAULT '0',
			filled_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fills_token ON fills(token);
		CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);

		CREATE TABLE IF NOT EXISTS positions (
			token          TEXT PRIMARY KEY,
			symbol         TEXT    NOT NULL,
			exchange       TEXT,
			entry_price    TEXT    NOT NULL,
			current_qty    INTEGER NOT NULL,
			initial_qty    INTEGER NOT NULL,
			booked_pnl     TEXT    NOT NULL,
			stop_loss      TEXT    NOT NULL,
			target         TEXT    NOT NULL,
			entry_time     INTEGER NOT NULL,
			auto_exit      INTEGER NOT NULL,
			last_price     TEXT    NOT NULL,
			risk_allocated TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS risk_pool (
			id             INTEGER PRIMARY KEY CHECK (id = 1),
			available_risk TEXT    NOT NULL,
			used_risk      TEXT    NOT NULL,
			version        INTEGER NOT NULL,
			saved_at       INTEGER NOT NULL
		);
	`)
	return err
}

// RecordFill appends a confirmed fill.
func (j *Journal) RecordFill(ctx context.Context, f model.Fill) error {
	filledAt := f.FilledAt
	if filledAt.IsZero() {
		filledAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, kind, token, symbol, side, qty, price, risk_amount, slippage, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, string(f.Kind), f.Token, f.Symbol, string(f.Side), f.Qty,
		f.Price, f.RiskAmount, f.Slippage, filledAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert fill: %w", err)
	}
	return nil
}

// SavePositions replaces the stored checkpoint with snap in one transaction.
func (j *Journal) SavePositions(ctx context.Context, snap portfolio.Snapshot) error {
	start := time.Now()
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (token, symbol, exchange, entry_price, current_qty, initial_qty, booked_pnl,
			stop_loss, target, entry_time, auto_exit, last_price, risk_allocated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range snap.Positions {
		var entryTime int64
		if !p.EntryTime.IsZero() {
			entryTime = p.EntryTime.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, p.Token, p.Symbol, p.Exchange, p.EntryPrice, p.CurrentQty, p.InitialQty,
			p.BookedPnL, p.StopLoss, p.Target, entryTime, p.AutoExit, p.LastPrice, p.RiskAllocated); err != nil {
			return fmt.Errorf("sqlite insert position %s: %w", p.Token, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO risk_pool (id, available_risk, used_risk, version, saved_at)
		VALUES (1, ?, ?, ?, ?)
	`, snap.RiskPool.AvailableRisk, snap.RiskPool.UsedRisk, int64(snap.Version), time.Now().UnixMilli()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if j.OnCommit != nil {
		j.OnCommit(time.Since(start))
	}
	return nil
}

// RunCheckpoint saves source() every interval when its version moved, and
// once more when ctx is cancelled. Blocks until ctx is done.
func (j *Journal) RunCheckpoint(ctx context.Context, interval time.Duration, source func() portfolio.Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var saved uint64
	haveSaved := false
	save := func(ctx context.Context) {
		snap := source()
		if haveSaved && snap.Version == saved {
			return
		}
		if err := j.SavePositions(ctx, snap); err != nil {
			log.Printf("[sqlite] checkpoint error: %v", err)
			return
		}
		saved, haveSaved = snap.Version, true
		log.Printf("[sqlite] checkpoint saved: %d positions, version %d", len(snap.Positions), snap.Version)
	}

	for {
		select {
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			save(shutCtx)
			cancel()
			return
		case <-ticker.C:
			save(ctx)
		}
	}
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
