package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/credo-app/credo/internal/domain"
)

// ─── Statistics Snapshots ───────────────────────────────────────────────────

// Snapshot reads the full counter set for a user in one statement.
// Returns ErrNotFound when no statistics row exists yet.
func (d *DB) Snapshot(ctx context.Context, userID string) (domain.UserStats, error) {
	s := domain.UserStats{UserID: userID}
	err := d.db.QueryRowContext(ctx,
		`SELECT alliance_quests_completed, battle_quests_won, speculation_wins_for,
			speculation_wins_against, speculation_quests_resolved, lifetime_mojo_earned,
			lifetime_mojo_spent_ranks, lifetime_goals_logged
		 FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&s.AllianceQuestsCompleted, &s.BattleQuestsWon, &s.SpeculationWinsFor,
		&s.SpeculationWinsAgainst, &s.SpeculationQuestsResolved, &s.LifetimeMojoEarned,
		&s.LifetimeMojoSpentRanks, &s.LifetimeGoalsLogged)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: stats %s", domain.ErrNotFound, userID)
	}
	return s, storeErr("select stats", err)
}

// PutStats replaces the gameplay counters for a user. Used by the
// surrounding gameplay systems; lifetime_goals_logged is engine-owned and
// only ever moves forward.
func (d *DB) PutStats(ctx context.Context, s domain.UserStats, at time.Time) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, alliance_quests_completed, battle_quests_won,
			speculation_wins_for, speculation_wins_against, speculation_quests_resolved,
			lifetime_mojo_earned, lifetime_mojo_spent_ranks, lifetime_goals_logged, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			alliance_quests_completed=excluded.alliance_quests_completed,
			battle_quests_won=excluded.battle_quests_won,
			speculation_wins_for=excluded.speculation_wins_for,
			speculation_wins_against=excluded.speculation_wins_against,
			speculation_quests_resolved=excluded.speculation_quests_resolved,
			lifetime_mojo_earned=excluded.lifetime_mojo_earned,
			lifetime_mojo_spent_ranks=excluded.lifetime_mojo_spent_ranks,
			lifetime_goals_logged=MAX(lifetime_goals_logged, excluded.lifetime_goals_logged),
			updated_at=excluded.updated_at`,
		s.UserID, s.AllianceQuestsCompleted, s.BattleQuestsWon,
		s.SpeculationWinsFor, s.SpeculationWinsAgainst, s.SpeculationQuestsResolved,
		s.LifetimeMojoEarned, s.LifetimeMojoSpentRanks, s.LifetimeGoalsLogged, at.Unix(),
	)
	return storeErr("upsert stats", err)
}
