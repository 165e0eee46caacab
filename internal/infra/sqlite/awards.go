package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/credo-app/credo/internal/domain"
)

// ─── Badge Awards ───────────────────────────────────────────────────────────

// InsertAward records a badge as earned.
// Returns false if the (user, badge) row already exists (idempotent).
func (d *DB) InsertAward(ctx context.Context, a domain.BadgeAward) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO badge_awards (user_id, badge_id, earned_at, progress)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, badge_id) DO NOTHING`,
		a.UserID, a.BadgeID, a.EarnedAt.Unix(), nullFloat(a.Progress),
	)
	if err != nil {
		return false, storeErr("insert award", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("award rows affected", err)
	}
	return n > 0, nil // true = newly granted
}

// ListAwards returns a user's badges, oldest first.
func (d *DB) ListAwards(ctx context.Context, userID string) ([]domain.BadgeAward, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, badge_id, earned_at, progress
		 FROM badge_awards WHERE user_id = ? ORDER BY earned_at ASC, badge_id ASC`,
		userID,
	)
	if err != nil {
		return nil, storeErr("select awards", err)
	}
	defer rows.Close()

	var awards []domain.BadgeAward
	for rows.Next() {
		a, err := scanAward(rows)
		if err != nil {
			return nil, storeErr("scan award", err)
		}
		awards = append(awards, a)
	}
	return awards, storeErr("iterate awards", rows.Err())
}

// GetAward returns ErrNotFound if the user has not earned the badge.
func (d *DB) GetAward(ctx context.Context, userID, badgeID string) (domain.BadgeAward, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT user_id, badge_id, earned_at, progress
		 FROM badge_awards WHERE user_id = ? AND badge_id = ?`,
		userID, badgeID,
	)
	a, err := scanAward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("%w: award %s/%s", domain.ErrNotFound, userID, badgeID)
	}
	return a, storeErr("select award", err)
}

// AwardCount returns how many rows exist for (user, badge). Never more than 1.
func (d *DB) AwardCount(ctx context.Context, userID, badgeID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM badge_awards WHERE user_id = ? AND badge_id = ?`,
		userID, badgeID,
	).Scan(&n)
	return n, storeErr("count awards", err)
}

func scanAward(s scanner) (domain.BadgeAward, error) {
	var (
		a        domain.BadgeAward
		earned   int64
		progress sql.NullFloat64
	)
	if err := s.Scan(&a.UserID, &a.BadgeID, &earned, &progress); err != nil {
		return a, err
	}
	a.EarnedAt = time.Unix(earned, 0).UTC()
	if progress.Valid {
		v := progress.Float64
		a.Progress = &v
	}
	return a, nil
}
