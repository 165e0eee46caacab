package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// Infrastructure implements them; the application layer depends on them.

// StatsReader returns full statistics snapshots.
type StatsReader interface {
	// Snapshot returns ErrNotFound when the user has no statistics row.
	Snapshot(ctx context.Context, userID string) (UserStats, error)
}

// AwardStore persists badge awards.
type AwardStore interface {
	// InsertAward is an atomic conditional insert. Returns false when the
	// (user, badge) row already exists.
	InsertAward(ctx context.Context, award BadgeAward) (bool, error)
	ListAwards(ctx context.Context, userID string) ([]BadgeAward, error)
}

// AccountStore persists credibility accounts and goal logs.
type AccountStore interface {
	CreateAccount(ctx context.Context, userID string, frequency int, at time.Time) (Account, error)
	GetAccount(ctx context.Context, userID string) (Account, error)
	SetFrequency(ctx context.Context, userID string, frequency int, at time.Time) error

	// RecordGoal appends the log and applies gain(weekCount) atomically,
	// where weekCount includes the new log.
	RecordGoal(ctx context.Context, log GoalLog, week WeekWindow,
		gain func(frequency, weekCount int) float64) (float64, Account, error)

	LedgerEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// SettlementStore closes weeks.
type SettlementStore interface {
	// SettleWeek claims (user, week) and applies the outcome in a single
	// transaction, resetting progress to the logs at or after openFrom.
	// Returns ErrAlreadySettled (with the stored record) when another run won.
	SettleWeek(ctx context.Context, userID string, week WeekWindow, openFrom, at time.Time,
		outcome func(frequency, progress int) WeeklyOutcome) (Settlement, error)

	// AccountsCreatedBefore lists users eligible for settling a week.
	AccountsCreatedBefore(ctx context.Context, t time.Time) ([]string, error)
	GetSettlement(ctx context.Context, userID, week string) (Settlement, error)
	LatestSettlement(ctx context.Context) (time.Time, error)
}

// Awarder is the Award Ledger seen from the evaluator.
type Awarder interface {
	Award(ctx context.Context, userID, badgeID string, progress *float64) (bool, error)
}

// Publisher delivers change notifications.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
