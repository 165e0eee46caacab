package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/credo-app/credo/internal/domain"
)

// ─── Credibility Accounts ───────────────────────────────────────────────────

const accountColumns = `user_id, score, frequency, current_progress, created_at, updated_at`

// CreateAccount opens a credibility account and a zeroed statistics row.
// Returns ErrAccountExists if the user already committed.
func (d *DB) CreateAccount(ctx context.Context, userID string, frequency int, at time.Time) (domain.Account, error) {
	var acct domain.Account
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (user_id, score, frequency, current_progress, created_at, updated_at)
			 VALUES (?, 0, ?, 0, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			userID, frequency, at.Unix(), at.Unix(),
		)
		if err != nil {
			return storeErr("insert account", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrAccountExists, userID)
		}

		// Gameplay systems may have pushed stats before the commitment.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_stats (user_id, updated_at) VALUES (?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			userID, at.Unix(),
		); err != nil {
			return storeErr("insert stats", err)
		}

		acct, err = getAccount(ctx, tx, userID)
		return err
	})
	return acct, err
}

// GetAccount returns ErrNotFound when the user has no account.
func (d *DB) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	return getAccount(ctx, d.db, userID)
}

// SetFrequency changes the committed weekly frequency.
func (d *DB) SetFrequency(ctx context.Context, userID string, frequency int, at time.Time) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE accounts SET frequency = ?, updated_at = ? WHERE user_id = ?`,
		frequency, at.Unix(), userID,
	)
	if err != nil {
		return storeErr("update frequency", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, userID)
	}
	return nil
}

// RecordGoal appends a goal log and applies its gain in one transaction.
// The score is moved with an in-place increment, never read-modify-write.
func (d *DB) RecordGoal(ctx context.Context, log domain.GoalLog, week domain.WeekWindow,
	gain func(frequency, weekCount int) float64) (float64, domain.Account, error) {

	var (
		applied float64
		acct    domain.Account
	)
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var frequency int
		err := tx.QueryRowContext(ctx,
			`SELECT frequency FROM accounts WHERE user_id = ?`, log.UserID,
		).Scan(&frequency)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", domain.ErrNotFound, log.UserID)
		}
		if err != nil {
			return storeErr("select frequency", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO goal_logs (id, user_id, logged_at, client_time) VALUES (?, ?, ?, ?)`,
			log.ID, log.UserID, log.LoggedAt.Unix(), nullableUnix(log.ClientTime),
		); err != nil {
			return storeErr("insert goal log", err)
		}

		weekCount, err := countGoals(ctx, tx, log.UserID, week.Start, week.End)
		if err != nil {
			return err
		}
		applied = gain(frequency, weekCount)

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts
			 SET score = score + ?, current_progress = current_progress + 1, updated_at = ?
			 WHERE user_id = ?`,
			applied, log.LoggedAt.Unix(), log.UserID,
		); err != nil {
			return storeErr("increment score", err)
		}

		if applied != 0 {
			if err := insertLedger(ctx, tx, domain.LedgerEntry{
				UserID:    log.UserID,
				Kind:      domain.EntryGoalGain,
				Delta:     applied,
				Week:      week.Key,
				Reference: log.ID,
				CreatedAt: log.LoggedAt,
			}); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_stats (user_id, lifetime_goals_logged, updated_at) VALUES (?, 1, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
				lifetime_goals_logged = lifetime_goals_logged + 1,
				updated_at = excluded.updated_at`,
			log.UserID, log.LoggedAt.Unix(),
		); err != nil {
			return storeErr("increment goals logged", err)
		}

		acct, err = getAccount(ctx, tx, log.UserID)
		return err
	})
	return applied, acct, err
}

// GoalCount returns the number of goals a user logged in [from, to).
func (d *DB) GoalCount(ctx context.Context, userID string, from, to time.Time) (int, error) {
	return countGoals(ctx, d.db, userID, from, to)
}

// ─── Credibility Ledger ─────────────────────────────────────────────────────

// LedgerEntries returns recent ledger entries for a user, newest first.
func (d *DB) LedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, kind, delta, week, reference, created_at
		 FROM credibility_ledger WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, storeErr("select ledger", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e   domain.LedgerEntry
			ref sql.NullString
			ts  int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Delta, &e.Week, &ref, &ts); err != nil {
			return nil, storeErr("scan ledger", err)
		}
		e.Reference = ref.String
		e.CreatedAt = fromUnix(ts)
		entries = append(entries, e)
	}
	return entries, storeErr("iterate ledger", rows.Err())
}

// LedgerSum returns SUM(delta) for a user. Equals the account score.
func (d *DB) LedgerSum(ctx context.Context, userID string) (float64, error) {
	var sum sql.NullFloat64
	err := d.db.QueryRowContext(ctx,
		`SELECT SUM(delta) FROM credibility_ledger WHERE user_id = ?`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, storeErr("sum ledger", err)
	}
	return sum.Float64, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAccount(ctx context.Context, q querier, userID string) (domain.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID,
	)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return acct, fmt.Errorf("%w: account %s", domain.ErrNotFound, userID)
	}
	return acct, storeErr("select account", err)
}

func scanAccount(s scanner) (domain.Account, error) {
	var (
		a                domain.Account
		created, updated int64
	)
	if err := s.Scan(&a.UserID, &a.Score, &a.Frequency, &a.CurrentProgress, &created, &updated); err != nil {
		return a, err
	}
	a.CreatedAt = fromUnix(created)
	a.UpdatedAt = fromUnix(updated)
	return a, nil
}

func countGoals(ctx context.Context, q querier, userID string, from, to time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM goal_logs WHERE user_id = ? AND logged_at >= ? AND logged_at < ?`,
		userID, from.Unix(), to.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, storeErr("count goals", err)
	}
	return n, nil
}

func countGoalsSince(ctx context.Context, q querier, userID string, from time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM goal_logs WHERE user_id = ? AND logged_at >= ?`,
		userID, from.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, storeErr("count goals", err)
	}
	return n, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credibility_ledger (user_id, kind, delta, week, reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, string(e.Kind), e.Delta, e.Week, nullStr(e.Reference), e.CreatedAt.Unix(),
	)
	return storeErr("insert ledger", err)
}
