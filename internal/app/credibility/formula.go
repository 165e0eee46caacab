package credibility

import (
	"math"

	"github.com/credo-app/credo/internal/domain"
)

// ─── Credibility Formulas ───────────────────────────────────────────────────
// allocation = 2 * n^1.5, gain = allocation / n, bonus = +4, penalty = -2 * missed.
// Server-side enforcement must call these directly: same math.Pow, no rounding,
// no special cases beyond the n <= 0 guard.

const (
	allocationScale    = 2.0
	allocationExponent = 1.5
	completionBonus    = 4.0
	missPenalty        = -2.0
)

// WeeklyAllocation is the total credibility obtainable in one week from goal
// completions when committing to nGoals.
func WeeklyAllocation(nGoals int) float64 {
	if nGoals <= 0 {
		return 0
	}
	return allocationScale * math.Pow(float64(nGoals), allocationExponent)
}

// PerGoalGain is the credibility earned by each logged goal. nGoals of them
// sum to WeeklyAllocation(nGoals).
func PerGoalGain(nGoals int) float64 {
	if nGoals <= 0 {
		return 0
	}
	return WeeklyAllocation(nGoals) / float64(nGoals)
}

// CompletionBonus is applied when a week's progress meets the frequency.
func CompletionBonus() float64 {
	return completionBonus
}

// FailurePenalty is applied for nMissed goals short of the frequency.
func FailurePenalty(nMissed int) float64 {
	if nMissed <= 0 {
		return 0
	}
	return missPenalty * float64(nMissed)
}

// WeeklyOutcome settles one week. Meeting the frequency exactly counts as
// success.
func WeeklyOutcome(frequency, progress int) domain.WeeklyOutcome {
	if progress >= frequency {
		return domain.WeeklyOutcome{Bonus: CompletionBonus(), Net: CompletionBonus()}
	}
	p := FailurePenalty(frequency - progress)
	return domain.WeeklyOutcome{Penalty: p, Net: p}
}

// CappedGoalGain is the gain for the weekCount-th goal of a week. Goals past
// the committed frequency earn nothing, so a week never exceeds its allocation.
func CappedGoalGain(frequency, weekCount int) float64 {
	if weekCount <= 0 || weekCount > frequency {
		return 0
	}
	return PerGoalGain(frequency)
}
