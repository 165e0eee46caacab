// Package domain holds the credibility and achievement types shared by every
// layer. Types here carry no infrastructure dependency.
package domain

import (
	"fmt"
	"time"
)

// ─── Credibility Account ────────────────────────────────────────────────────

// Account is a user's credibility account.
// Score is only ever changed by ledger-backed increments.
type Account struct {
	UserID          string    `json:"user_id"`
	Score           float64   `json:"score"`
	Frequency       int       `json:"frequency"`        // committed goals per week
	CurrentProgress int       `json:"current_progress"` // goals logged in the open week
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ValidateFrequency rejects non-positive weekly commitments.
func ValidateFrequency(frequency int) error {
	if frequency <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %d", ErrValidation, frequency)
	}
	return nil
}

// GoalLog is one append-only goal completion.
// LoggedAt is stamped by the engine; ClientTime is display-only.
type GoalLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	LoggedAt   time.Time `json:"logged_at"`
	ClientTime time.Time `json:"client_time,omitempty"`
}

// EntryKind categorizes a credibility ledger entry.
type EntryKind string

const (
	EntryGoalGain        EntryKind = "GOAL_GAIN"
	EntryCompletionBonus EntryKind = "COMPLETION_BONUS"
	EntryFailurePenalty  EntryKind = "FAILURE_PENALTY"
)

// LedgerEntry records one applied credibility delta.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      EntryKind `json:"kind"`
	Delta     float64   `json:"delta"`
	Week      string    `json:"week"`
	Reference string    `json:"reference,omitempty"` // goal log id or settlement key
	CreatedAt time.Time `json:"created_at"`
}

// GoalResult is returned from a goal-log trigger.
type GoalResult struct {
	Log       GoalLog      `json:"log"`
	Gain      float64      `json:"gain"`
	Account   Account      `json:"account"`
	NewBadges []BadgeAward `json:"new_badges,omitempty"`
}

// ─── Weekly Outcome / Settlement ────────────────────────────────────────────

// WeeklyOutcome is the settlement result for one week.
// Exactly one of Bonus and Penalty is non-zero.
type WeeklyOutcome struct {
	Bonus   float64 `json:"bonus"`
	Penalty float64 `json:"penalty"`
	Net     float64 `json:"net"`
}

// SettlementState tracks a (user, week) settlement.
type SettlementState string

const (
	SettlementPending  SettlementState = "PENDING"
	SettlementSettling SettlementState = "SETTLING"
	SettlementSettled  SettlementState = "SETTLED"
)

// Settlement is the persisted record of a closed week.
type Settlement struct {
	UserID    string          `json:"user_id"`
	Week      string          `json:"week"` // "2026-W41"
	State     SettlementState `json:"state"`
	Frequency int             `json:"frequency"`
	Progress  int             `json:"progress"`
	Outcome   WeeklyOutcome   `json:"outcome"`
	SettledAt time.Time       `json:"settled_at"`
}

// ─── Statistics Snapshot ────────────────────────────────────────────────────

// UserStats is a point-in-time read of a user's lifetime counters.
// Fed to badge predicates; mutated only by gameplay systems.
type UserStats struct {
	UserID                    string `json:"user_id"`
	AllianceQuestsCompleted   int64  `json:"alliance_quests_completed"`
	BattleQuestsWon           int64  `json:"battle_quests_won"`
	SpeculationWinsFor        int64  `json:"speculation_wins_for"`
	SpeculationWinsAgainst    int64  `json:"speculation_wins_against"`
	SpeculationQuestsResolved int64  `json:"speculation_quests_resolved"`
	LifetimeMojoEarned        int64  `json:"lifetime_mojo_earned"`
	LifetimeMojoSpentRanks    int64  `json:"lifetime_mojo_spent_ranks"`
	LifetimeGoalsLogged       int64  `json:"lifetime_goals_logged"`
}

// Counters returns the snapshot keyed by stat name.
func (s UserStats) Counters() map[string]int64 {
	return map[string]int64{
		StatAllianceQuests:       s.AllianceQuestsCompleted,
		StatBattleWins:           s.BattleQuestsWon,
		StatSpeculationWinsFor:   s.SpeculationWinsFor,
		StatSpeculationWinsAgain: s.SpeculationWinsAgainst,
		StatSpeculationResolved:  s.SpeculationQuestsResolved,
		StatMojoEarned:           s.LifetimeMojoEarned,
		StatMojoSpentRanks:       s.LifetimeMojoSpentRanks,
		StatGoalsLogged:          s.LifetimeGoalsLogged,
	}
}

// Validate rejects malformed snapshots (negative counters).
func (s UserStats) Validate() error {
	for name, v := range s.Counters() {
		if v < 0 {
			return fmt.Errorf("%w: stat %s is negative (%d)", ErrValidation, name, v)
		}
	}
	return nil
}

// Stat counter keys, used by the badge catalog.
const (
	StatAllianceQuests       = "alliance_quests_completed"
	StatBattleWins           = "battle_quests_won"
	StatSpeculationWinsFor   = "speculation_wins_for"
	StatSpeculationWinsAgain = "speculation_wins_against"
	StatSpeculationResolved  = "speculation_quests_resolved"
	StatMojoEarned           = "lifetime_mojo_earned"
	StatMojoSpentRanks       = "lifetime_mojo_spent_ranks"
	StatGoalsLogged          = "lifetime_goals_logged"
)

// ─── Badges ─────────────────────────────────────────────────────────────────

// BadgeCategory groups badges by what triggers them.
type BadgeCategory string

const (
	CatStreak    BadgeCategory = "streak"
	CatQuest     BadgeCategory = "quest"
	CatMojo      BadgeCategory = "mojo"
	CatMilestone BadgeCategory = "milestone"
	CatSpecial   BadgeCategory = "special"
	CatTime      BadgeCategory = "time"
)

// SnapshotDriven reports whether badges in the category are evaluated
// against a statistics snapshot.
func (c BadgeCategory) SnapshotDriven() bool {
	switch c {
	case CatQuest, CatMojo, CatMilestone:
		return true
	}
	return false
}

// Known reports whether c is a recognised category.
func (c BadgeCategory) Known() bool {
	switch c {
	case CatStreak, CatQuest, CatMojo, CatMilestone, CatSpecial, CatTime:
		return true
	}
	return false
}

// BadgeDef is one catalog entry.
type BadgeDef struct {
	ID          string        `json:"id" toml:"id"`
	Name        string        `json:"name" toml:"name"`
	Description string        `json:"description" toml:"description"`
	Icon        string        `json:"icon" toml:"icon"`
	Category    BadgeCategory `json:"category" toml:"category"`
	SortOrder   int           `json:"sort_order" toml:"sort_order"`
	Metric      string        `json:"metric,omitempty" toml:"metric"`
	Threshold   float64       `json:"threshold,omitempty" toml:"threshold"`
}

// BadgeAward records that a user earned a badge. At most one per (user, badge).
type BadgeAward struct {
	UserID   string    `json:"user_id"`
	BadgeID  string    `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
	Progress *float64  `json:"progress,omitempty"`
}

// SpeculationOutcome carries the parameters of one resolved speculation.
type SpeculationOutcome struct {
	MojoAmount float64 `json:"mojo"`
	Odds       float64 `json:"odds"`
	Won        bool    `json:"won"`
}

// ─── Events ─────────────────────────────────────────────────────────────────

// EventType categorizes a change notification.
type EventType string

const (
	EventBadgeAwarded       EventType = "badge_awarded"
	EventWeekSettled        EventType = "week_settled"
	EventCredibilityChanged EventType = "credibility_changed"
)

// Event is published after a successful mutation.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	BadgeID   string    `json:"badge_id,omitempty"`
	Week      string    `json:"week,omitempty"`
	Delta     float64   `json:"delta,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
