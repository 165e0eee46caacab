package achievement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/metrics"
)

// Evaluator checks catalog predicates and forwards qualifying badges to the
// award ledger. It holds no state of its own; idempotence lives in the ledger.
type Evaluator struct {
	stats   domain.StatsReader
	awarder domain.Awarder
	catalog *Catalog
	log     *zap.Logger
	now     func() time.Time
}

// NewEvaluator creates an evaluator.
func NewEvaluator(stats domain.StatsReader, awarder domain.Awarder, catalog *Catalog, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		stats:   stats,
		awarder: awarder,
		catalog: catalog,
		log:     log.Named("evaluator"),
		now:     time.Now,
	}
}

// Evaluate reads the user's snapshot and awards every badge in category whose
// threshold is met. Returns only awards newly granted by this call.
//
// An unreadable snapshot degrades to no awards and no error. Award failures
// are joined and returned alongside whatever did get granted.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, category domain.BadgeCategory) ([]domain.BadgeAward, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	if !category.SnapshotDriven() {
		return nil, fmt.Errorf("%w: category %q is not evaluated from statistics", domain.ErrValidation, category)
	}

	snap, ok := e.snapshot(ctx, userID)
	if !ok {
		return nil, nil
	}
	return e.evaluate(ctx, userID, snap, category)
}

// EvaluateAll runs every snapshot-driven category against one snapshot read.
func (e *Evaluator) EvaluateAll(ctx context.Context, userID string) ([]domain.BadgeAward, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	snap, ok := e.snapshot(ctx, userID)
	if !ok {
		return nil, nil
	}

	var (
		awards []domain.BadgeAward
		errs   []error
	)
	for _, cat := range []domain.BadgeCategory{domain.CatQuest, domain.CatMojo, domain.CatMilestone} {
		got, err := e.evaluate(ctx, userID, snap, cat)
		awards = append(awards, got...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return awards, errors.Join(errs...)
}

// EvaluateSingleEvent checks special badges against one resolved speculation.
// Nothing is awarded for a loss.
func (e *Evaluator) EvaluateSingleEvent(ctx context.Context, userID string, outcome domain.SpeculationOutcome) ([]domain.BadgeAward, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	if outcome.MojoAmount < 0 || outcome.Odds < 0 {
		return nil, fmt.Errorf("%w: speculation mojo and odds must be non-negative", domain.ErrValidation)
	}
	if !outcome.Won {
		return nil, nil
	}

	values := map[string]float64{
		EventMojoWon: outcome.MojoAmount,
		EventOdds:    outcome.Odds,
	}

	var (
		awards []domain.BadgeAward
		errs   []error
	)
	for _, def := range e.catalog.ByCategory(domain.CatSpecial) {
		v, ok := values[def.Metric]
		if !ok || v < def.Threshold {
			continue
		}
		award, err := e.grant(ctx, userID, def, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if award != nil {
			awards = append(awards, *award)
		}
	}
	return awards, errors.Join(errs...)
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (e *Evaluator) snapshot(ctx context.Context, userID string) (domain.UserStats, bool) {
	snap, err := e.stats.Snapshot(ctx, userID)
	if err == nil {
		err = snap.Validate()
	}
	if err == nil {
		return snap, true
	}

	reason := "store"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, domain.ErrValidation):
		reason = "invalid"
	}
	metrics.EvaluationsSkipped.WithLabelValues(reason).Inc()
	e.log.Warn("snapshot unavailable, skipping evaluation",
		zap.String("user_id", userID), zap.String("reason", reason), zap.Error(err))
	return domain.UserStats{}, false
}

func (e *Evaluator) evaluate(ctx context.Context, userID string, snap domain.UserStats, category domain.BadgeCategory) ([]domain.BadgeAward, error) {
	counters := snap.Counters()

	var (
		awards []domain.BadgeAward
		errs   []error
	)
	for _, def := range e.catalog.ByCategory(category) {
		v := float64(counters[def.Metric])
		if v < def.Threshold {
			continue
		}
		award, err := e.grant(ctx, userID, def, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if award != nil {
			awards = append(awards, *award)
		}
	}
	return awards, errors.Join(errs...)
}

func (e *Evaluator) grant(ctx context.Context, userID string, def domain.BadgeDef, progress float64) (*domain.BadgeAward, error) {
	p := progress
	granted, err := e.awarder.Award(ctx, userID, def.ID, &p)
	if err != nil {
		return nil, fmt.Errorf("award %s: %w", def.ID, err)
	}
	if !granted {
		return nil, nil
	}
	return &domain.BadgeAward{
		UserID:   userID,
		BadgeID:  def.ID,
		EarnedAt: e.now().UTC(),
		Progress: &p,
	}, nil
}
