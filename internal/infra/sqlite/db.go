// Package sqlite provides SQLite-based persistent storage for Credo.
// Uses WAL mode for concurrent reads and crash-safe writes. Every mutation the
// engine relies on is a single conditional insert or a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/credo-app/credo/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/credo.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "credo.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; one connection serializes transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id          TEXT PRIMARY KEY,
			score            REAL NOT NULL DEFAULT 0,
			frequency        INTEGER NOT NULL CHECK (frequency > 0),
			current_progress INTEGER NOT NULL DEFAULT 0 CHECK (current_progress >= 0),
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_created ON accounts(created_at)`,

		// Append-only goal completions
		`CREATE TABLE IF NOT EXISTS goal_logs (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES accounts(user_id),
			logged_at   INTEGER NOT NULL,
			client_time INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goal_logs_user_ts ON goal_logs(user_id, logged_at)`,

		// Every applied credibility delta; SUM(delta) == accounts.score
		`CREATE TABLE IF NOT EXISTS credibility_ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			delta      REAL NOT NULL,
			week       TEXT NOT NULL,
			reference  TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON credibility_ledger(user_id)`,

		// Lifetime counters fed to badge predicates
		`CREATE TABLE IF NOT EXISTS user_stats (
			user_id                     TEXT PRIMARY KEY,
			alliance_quests_completed   INTEGER NOT NULL DEFAULT 0,
			battle_quests_won           INTEGER NOT NULL DEFAULT 0,
			speculation_wins_for        INTEGER NOT NULL DEFAULT 0,
			speculation_wins_against    INTEGER NOT NULL DEFAULT 0,
			speculation_quests_resolved INTEGER NOT NULL DEFAULT 0,
			lifetime_mojo_earned        INTEGER NOT NULL DEFAULT 0,
			lifetime_mojo_spent_ranks   INTEGER NOT NULL DEFAULT 0,
			lifetime_goals_logged       INTEGER NOT NULL DEFAULT 0,
			updated_at                  INTEGER NOT NULL
		)`,

		// One row per (user, badge), ever
		`CREATE TABLE IF NOT EXISTS badge_awards (
			user_id   TEXT NOT NULL,
			badge_id  TEXT NOT NULL,
			earned_at INTEGER NOT NULL,
			progress  REAL,
			PRIMARY KEY (user_id, badge_id)
		)`,

		// One row per (user, week), ever
		`CREATE TABLE IF NOT EXISTS settlements (
			user_id    TEXT NOT NULL,
			week       TEXT NOT NULL,
			state      TEXT NOT NULL,
			frequency  INTEGER NOT NULL DEFAULT 0,
			progress   INTEGER NOT NULL DEFAULT 0,
			bonus      REAL NOT NULL DEFAULT 0,
			penalty    REAL NOT NULL DEFAULT 0,
			net        REAL NOT NULL DEFAULT 0,
			claimed_at INTEGER NOT NULL,
			settled_at INTEGER,
			PRIMARY KEY (user_id, week)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_settled ON settlements(settled_at)`,

		// Change notification outbox
		`CREATE TABLE IF NOT EXISTS events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			type       TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			badge_id   TEXT,
			week       TEXT,
			delta      REAL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// inTx runs fn inside a transaction, rolling back on any error.
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// storeErr classifies a driver error as ErrStoreUnavailable.
// Errors already carrying a domain sentinel pass through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		domain.ErrValidation, domain.ErrNotFound, domain.ErrAccountExists,
		domain.ErrAlreadySettled, domain.ErrFatalInconsistency, domain.ErrStoreUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func fromUnix(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
