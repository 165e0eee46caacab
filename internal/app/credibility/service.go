// Package credibility implements the credibility formulas and the account
// service that applies per-goal gains as users log goals.
package credibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/app/notify"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/metrics"
)

// MilestoneEvaluator is the slice of the achievement evaluator the service
// calls after each goal.
type MilestoneEvaluator interface {
	Evaluate(ctx context.Context, userID string, category domain.BadgeCategory) ([]domain.BadgeAward, error)
}

// Service manages credibility accounts.
type Service struct {
	store     domain.AccountStore
	evaluator MilestoneEvaluator
	pub       domain.Publisher
	log       *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEvaluator runs milestone evaluation after each logged goal.
func WithEvaluator(e MilestoneEvaluator) Option {
	return func(s *Service) { s.evaluator = e }
}

// WithPublisher sets where credibility_changed events go.
func WithPublisher(p domain.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLocation sets the reference timezone for week boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// NewService creates a credibility service.
func NewService(store domain.AccountStore, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store: store,
		log:   log.Named("credibility"),
		loc:   time.UTC,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenAccount commits a user to frequency goals per week.
func (s *Service) OpenAccount(ctx context.Context, userID string, frequency int) (domain.Account, error) {
	if userID == "" {
		return domain.Account{}, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	if err := domain.ValidateFrequency(frequency); err != nil {
		return domain.Account{}, err
	}

	acct, err := s.store.CreateAccount(ctx, userID, frequency, s.now())
	if err != nil {
		return acct, err
	}
	s.log.Info("account opened", zap.String("user_id", userID), zap.Int("frequency", frequency))
	return acct, nil
}

// SetFrequency changes the weekly commitment. The new value applies to
// gains logged afterwards and to the next settlement.
func (s *Service) SetFrequency(ctx context.Context, userID string, frequency int) (domain.Account, error) {
	if err := domain.ValidateFrequency(frequency); err != nil {
		return domain.Account{}, err
	}
	if err := s.store.SetFrequency(ctx, userID, frequency, s.now()); err != nil {
		return domain.Account{}, err
	}
	s.log.Info("frequency changed", zap.String("user_id", userID), zap.Int("frequency", frequency))
	return s.store.GetAccount(ctx, userID)
}

// LogGoal records one goal completion and applies its gain. The goal is
// stamped with the engine clock; clientTime is kept for display only.
//
// Milestone evaluation runs after the commit. Its failure never fails the log.
func (s *Service) LogGoal(ctx context.Context, userID string, clientTime time.Time) (domain.GoalResult, error) {
	if userID == "" {
		return domain.GoalResult{}, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}

	now := s.now()
	log := domain.GoalLog{
		ID:         uuid.NewString(),
		UserID:     userID,
		LoggedAt:   now.UTC(),
		ClientTime: clientTime,
	}
	week := domain.WeekOf(now, s.loc)

	gain, acct, err := s.store.RecordGoal(ctx, log, week, CappedGoalGain)
	if err != nil {
		metrics.GoalsLogged.WithLabelValues(resultLabel(err)).Inc()
		return domain.GoalResult{}, err
	}
	metrics.GoalsLogged.WithLabelValues("ok").Inc()
	metrics.CredibilityApplied.WithLabelValues(string(domain.EntryGoalGain)).Add(gain)

	s.log.Debug("goal logged",
		zap.String("user_id", userID),
		zap.String("week", week.Key),
		zap.Float64("gain", gain),
		zap.Float64("score", acct.Score))

	if gain != 0 {
		e := notify.NewEvent(domain.EventCredibilityChanged, userID, now.UTC())
		e.Week = week.Key
		e.Delta = gain
		notify.Emit(ctx, s.pub, s.log, e)
	}

	result := domain.GoalResult{Log: log, Gain: gain, Account: acct}
	if s.evaluator != nil {
		awards, err := s.evaluator.Evaluate(ctx, userID, domain.CatMilestone)
		if err != nil {
			s.log.Warn("milestone evaluation failed", zap.String("user_id", userID), zap.Error(err))
		}
		result.NewBadges = awards
	}
	return result, nil
}

// Account returns a user's credibility account.
func (s *Service) Account(ctx context.Context, userID string) (domain.Account, error) {
	return s.store.GetAccount(ctx, userID)
}

// History returns recent ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.LedgerEntries(ctx, userID, limit)
}

// Week returns the week window containing t in the reference timezone.
func (s *Service) Week(t time.Time) domain.WeekWindow {
	return domain.WeekOf(t, s.loc)
}

// CurrentWeek returns the open week.
func (s *Service) CurrentWeek() domain.WeekWindow {
	return s.Week(s.now())
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "failed"
	}
}
