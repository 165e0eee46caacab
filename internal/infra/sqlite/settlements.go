package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/credo-app/credo/internal/domain"
)

// ─── Weekly Settlements ─────────────────────────────────────────────────────

const settlementColumns = `user_id, week, state, frequency, progress, bonus, penalty, net, settled_at`

// SettleWeek closes (user, week) in a single transaction:
// claim the row, count the week's goals, apply the net delta, reset progress
// to the goals logged at or after openFrom, and mark the week SETTLED.
//
// A lost claim returns the stored record with ErrAlreadySettled. A claimed
// row that never reached SETTLED returns ErrFatalInconsistency.
func (d *DB) SettleWeek(ctx context.Context, userID string, week domain.WeekWindow, openFrom, at time.Time,
	outcome func(frequency, progress int) domain.WeeklyOutcome) (domain.Settlement, error) {

	var st domain.Settlement
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var frequency int
		err := tx.QueryRowContext(ctx,
			`SELECT frequency FROM accounts WHERE user_id = ?`, userID,
		).Scan(&frequency)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", domain.ErrNotFound, userID)
		}
		if err != nil {
			return storeErr("select frequency", err)
		}

		// PENDING → SETTLING: first writer wins.
		result, err := tx.ExecContext(ctx,
			`INSERT INTO settlements (user_id, week, state, claimed_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id, week) DO NOTHING`,
			userID, week.Key, string(domain.SettlementSettling), at.Unix(),
		)
		if err != nil {
			return storeErr("claim settlement", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			existing, err := getSettlement(ctx, tx, userID, week.Key)
			if err != nil {
				return err
			}
			st = existing
			if existing.State != domain.SettlementSettled {
				return fmt.Errorf("%w: %s/%s in state %s",
					domain.ErrFatalInconsistency, userID, week.Key, existing.State)
			}
			return fmt.Errorf("%w: %s/%s", domain.ErrAlreadySettled, userID, week.Key)
		}

		progress, err := countGoals(ctx, tx, userID, week.Start, week.End)
		if err != nil {
			return err
		}
		out := outcome(frequency, progress)

		carried, err := countGoalsSince(ctx, tx, userID, openFrom)
		if err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx,
			`UPDATE accounts SET score = score + ?, current_progress = ?, updated_at = ?
			 WHERE user_id = ?`,
			out.Net, carried, at.Unix(), userID,
		)
		if err != nil {
			return storeErr("apply settlement delta", err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			return fmt.Errorf("%w: delta for %s/%s touched %d accounts",
				domain.ErrFatalInconsistency, userID, week.Key, n)
		}

		kind := domain.EntryCompletionBonus
		if out.Penalty != 0 {
			kind = domain.EntryFailurePenalty
		}
		if err := insertLedger(ctx, tx, domain.LedgerEntry{
			UserID:    userID,
			Kind:      kind,
			Delta:     out.Net,
			Week:      week.Key,
			Reference: "settlement:" + week.Key,
			CreatedAt: at,
		}); err != nil {
			return err
		}

		// SETTLING → SETTLED
		if _, err := tx.ExecContext(ctx,
			`UPDATE settlements
			 SET state = ?, frequency = ?, progress = ?, bonus = ?, penalty = ?, net = ?, settled_at = ?
			 WHERE user_id = ? AND week = ? AND state = ?`,
			string(domain.SettlementSettled), frequency, progress, out.Bonus, out.Penalty, out.Net, at.Unix(),
			userID, week.Key, string(domain.SettlementSettling),
		); err != nil {
			return storeErr("mark settled", err)
		}

		st = domain.Settlement{
			UserID:    userID,
			Week:      week.Key,
			State:     domain.SettlementSettled,
			Frequency: frequency,
			Progress:  progress,
			Outcome:   out,
			SettledAt: at.UTC(),
		}
		return nil
	})
	return st, err
}

// GetSettlement returns ErrNotFound when (user, week) has not been claimed.
func (d *DB) GetSettlement(ctx context.Context, userID, week string) (domain.Settlement, error) {
	return getSettlement(ctx, d.db, userID, week)
}

// AccountsCreatedBefore lists accounts opened before t, ordered by user id.
func (d *DB) AccountsCreatedBefore(ctx context.Context, t time.Time) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id FROM accounts WHERE created_at < ? ORDER BY user_id`, t.Unix(),
	)
	if err != nil {
		return nil, storeErr("select accounts", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan account id", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("iterate accounts", rows.Err())
}

// LatestSettlement returns when the most recent week was settled.
// Zero time if nothing has been settled yet.
func (d *DB) LatestSettlement(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT MAX(settled_at) FROM settlements WHERE state = ?`, string(domain.SettlementSettled),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, storeErr("latest settlement", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return fromUnix(ts.Int64), nil
}

// ListSettlements returns a user's settled weeks, newest first.
func (d *DB) ListSettlements(ctx context.Context, userID string, limit int) ([]domain.Settlement, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE user_id = ? ORDER BY week DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, storeErr("select settlements", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, storeErr("scan settlement", err)
		}
		out = append(out, st)
	}
	return out, storeErr("iterate settlements", rows.Err())
}

func getSettlement(ctx context.Context, q querier, userID, week string) (domain.Settlement, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE user_id = ? AND week = ?`,
		userID, week,
	)
	st, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("%w: settlement %s/%s", domain.ErrNotFound, userID, week)
	}
	return st, storeErr("select settlement", err)
}

func scanSettlement(s scanner) (domain.Settlement, error) {
	var (
		st      domain.Settlement
		settled sql.NullInt64
	)
	err := s.Scan(&st.UserID, &st.Week, &st.State, &st.Frequency, &st.Progress,
		&st.Outcome.Bonus, &st.Outcome.Penalty, &st.Outcome.Net, &settled)
	if err != nil {
		return st, err
	}
	if settled.Valid {
		st.SettledAt = fromUnix(settled.Int64)
	}
	return st, nil
}
