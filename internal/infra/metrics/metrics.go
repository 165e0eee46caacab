// Package metrics provides Prometheus metrics for Credo.
// Counters and histograms for goal logs, credibility deltas, badge awards,
// weekly settlement, event delivery, and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Credibility ────────────────────────────────────────────────────────────

// GoalsLogged tracks goal-log triggers by result.
var GoalsLogged = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credo",
	Name:      "goals_logged_total",
	Help:      "Total goal-log triggers.",
}, []string{"result"})

// CredibilityApplied tracks the sum of applied credibility deltas by kind.
// Penalties are negative, so this is a gauge-style running total.
var CredibilityApplied = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "credo",
	Name:      "credibility_applied",
	Help:      "Running sum of applied credibility deltas by ledger kind.",
}, []string{"kind"})

// ─── Badges ─────────────────────────────────────────────────────────────────

// BadgesAwarded tracks badges granted for the first time.
var BadgesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credo",
	Name:      "badges_awarded_total",
	Help:      "Total badges granted.",
}, []string{"badge"})

// BadgeAwardNoops tracks award calls for badges already held.
var BadgeAwardNoops = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credo",
	Name:      "badge_award_noops_total",
	Help:      "Award calls that found the badge already granted.",
}, []string{"badge"})

// EvaluationsSkipped tracks evaluator passes that degraded to no-op.
var EvaluationsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credo",
	Name:      "evaluations_skipped_total",
	Help:      "Evaluator passes skipped because the snapshot could not be read.",
}, []string{"reason"})

// ─── Settlement ─────────────────────────────────────────────────────────────

// Settlements tracks settled (user, week) pairs by result.
// result = bonus | penalty | noop | failed
var Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credo",
	Name:      "settlements_total",
	Help:      "Weekly settlements by result.",
}, []string{"result"})

// SettlementRunDuration tracks how long a full weekly run takes.
var SettlementRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "credo",
	Name:      "settlement_run_seconds",
	Help:      "Duration of a full weekly settlement run.",
	Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
})

// FatalInconsistencies tracks broken settlement atomicity. Alert on any increase.
var FatalInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "credo",
	Name:      "fatal_inconsistencies_total",
	Help:      "Settlements claimed without an applied delta.",
})

// ─── Events ─────────────────────────────────────────────────────────────────

// EventsPublished tracks change notifications by type and result.
var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credo",
	Name:      "events_published_total",
	Help:      "Change notifications published.",
}, []string{"type", "result"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "credo",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
