package credibility_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/credo-app/credo/internal/app/credibility"
	"github.com/credo-app/credo/internal/domain"
)

func TestWeeklyAllocation(t *testing.T) {
	assert.InDelta(t, 10.392, credibility.WeeklyAllocation(3), 1e-3)
	assert.Equal(t, 16.0, credibility.WeeklyAllocation(4))
	assert.Equal(t, 2.0, credibility.WeeklyAllocation(1))
	assert.Zero(t, credibility.WeeklyAllocation(0))
	assert.Zero(t, credibility.WeeklyAllocation(-3))
}

func TestPerGoalGain(t *testing.T) {
	assert.Equal(t, 4.0, credibility.PerGoalGain(4))
	assert.InDelta(t, 3.4641, credibility.PerGoalGain(3), 1e-4)
	assert.Zero(t, credibility.PerGoalGain(0))
}

func TestPerGoalGainSumsToAllocation(t *testing.T) {
	for n := 1; n <= 50; n++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += credibility.PerGoalGain(n)
		}
		assert.InDelta(t, credibility.WeeklyAllocation(n), sum, 1e-9, "n=%d", n)
	}
}

func TestAllocationGrowsSuperlinearly(t *testing.T) {
	for n := 1; n < 20; n++ {
		assert.Greater(t, credibility.PerGoalGain(n+1), credibility.PerGoalGain(n), "n=%d", n)
	}
}

func TestFailurePenalty(t *testing.T) {
	assert.Equal(t, -2.0, credibility.FailurePenalty(1))
	assert.Equal(t, -8.0, credibility.FailurePenalty(4))
	assert.Zero(t, credibility.FailurePenalty(0))
	assert.Zero(t, credibility.FailurePenalty(-1))
	assert.Equal(t, 4.0, credibility.CompletionBonus())
}

func TestWeeklyOutcome(t *testing.T) {
	tests := []struct {
		name                string
		frequency, progress int
		want                domain.WeeklyOutcome
	}{
		{"exact", 3, 3, domain.WeeklyOutcome{Bonus: 4, Net: 4}},
		{"over", 3, 5, domain.WeeklyOutcome{Bonus: 4, Net: 4}},
		{"one short", 4, 3, domain.WeeklyOutcome{Penalty: -2, Net: -2}},
		{"nothing", 5, 0, domain.WeeklyOutcome{Penalty: -10, Net: -10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := credibility.WeeklyOutcome(tt.frequency, tt.progress)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.Bonus+got.Penalty, got.Net)
			assert.True(t, (got.Bonus == 0) != (got.Penalty == 0), "exactly one of bonus/penalty")
		})
	}
}

func TestCappedGoalGain(t *testing.T) {
	assert.Equal(t, 4.0, credibility.CappedGoalGain(4, 1))
	assert.Equal(t, 4.0, credibility.CappedGoalGain(4, 4))
	assert.Zero(t, credibility.CappedGoalGain(4, 5))
	assert.Zero(t, credibility.CappedGoalGain(4, 0))

	var sum float64
	for i := 1; i <= 10; i++ {
		sum += credibility.CappedGoalGain(3, i)
	}
	assert.InDelta(t, credibility.WeeklyAllocation(3), sum, 1e-9)
	assert.False(t, math.IsNaN(sum))
}
