package achievement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/app/notify"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/metrics"
)

// Ledger grants badges. Each (user, badge) is granted at most once, enforced
// by the store's conditional insert rather than a check-then-write.
type Ledger struct {
	store   domain.AwardStore
	catalog *Catalog
	pub     domain.Publisher
	log     *zap.Logger
	now     func() time.Time
}

// NewLedger creates an award ledger. pub may be nil.
func NewLedger(store domain.AwardStore, catalog *Catalog, pub domain.Publisher, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		store:   store,
		catalog: catalog,
		pub:     pub,
		log:     log.Named("awards"),
		now:     time.Now,
	}
}

// Award grants badgeID to userID. Returns true only for the call that created
// the award; a repeat returns false with no error and leaves the original
// EarnedAt and progress untouched.
func (l *Ledger) Award(ctx context.Context, userID, badgeID string, progress *float64) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	if _, ok := l.catalog.Lookup(badgeID); !ok {
		return false, fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrUnknownBadge, badgeID)
	}

	award := domain.BadgeAward{
		UserID:   userID,
		BadgeID:  badgeID,
		EarnedAt: l.now().UTC(),
		Progress: progress,
	}
	granted, err := l.store.InsertAward(ctx, award)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		l.log.Error("award insert failed",
			zap.String("user_id", userID), zap.String("badge_id", badgeID), zap.Error(err))
		return false, err
	}

	if !granted {
		metrics.BadgeAwardNoops.WithLabelValues(badgeID).Inc()
		l.log.Debug("badge already held", zap.String("user_id", userID), zap.String("badge_id", badgeID))
		return false, nil
	}

	metrics.BadgesAwarded.WithLabelValues(badgeID).Inc()
	l.log.Info("badge awarded", zap.String("user_id", userID), zap.String("badge_id", badgeID))

	e := notify.NewEvent(domain.EventBadgeAwarded, userID, award.EarnedAt)
	e.BadgeID = badgeID
	notify.Emit(ctx, l.pub, l.log, e)
	return true, nil
}

// RecordExternal grants a streak or time badge whose eligibility was decided
// by the caller. Other categories are owned by the evaluator.
func (l *Ledger) RecordExternal(ctx context.Context, userID, badgeID string, progress *float64) (bool, error) {
	def, ok := l.catalog.Lookup(badgeID)
	if !ok {
		return false, fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrUnknownBadge, badgeID)
	}
	if def.Category != domain.CatStreak && def.Category != domain.CatTime {
		return false, fmt.Errorf("%w: %s badge %q is awarded by evaluation", domain.ErrValidation, def.Category, badgeID)
	}
	return l.Award(ctx, userID, badgeID, progress)
}

// Awards returns the badges a user holds.
func (l *Ledger) Awards(ctx context.Context, userID string) ([]domain.BadgeAward, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	return l.store.ListAwards(ctx, userID)
}

// Catalog returns the catalog awards are checked against.
func (l *Ledger) Catalog() *Catalog { return l.catalog }
