// Package settlement closes weekly credibility windows. Each (user, week) is
// settled exactly once: a claim row and the score delta commit together.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/credo-app/credo/internal/app/credibility"
	"github.com/credo-app/credo/internal/app/notify"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/metrics"
)

// Service settles weeks.
type Service struct {
	store       domain.SettlementStore
	pub         domain.Publisher
	log         *zap.Logger
	loc         *time.Location
	now         func() time.Time
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets where week_settled events go.
func WithPublisher(p domain.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLocation sets the reference timezone for week boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithConcurrency bounds how many accounts SettleWeek works on at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService creates a settlement service.
func NewService(store domain.SettlementStore, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:       store,
		log:         log.Named("settlement"),
		loc:         time.UTC,
		now:         time.Now,
		concurrency: 4,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Location returns the reference timezone.
func (s *Service) Location() *time.Location { return s.loc }

// ParseWeek resolves a "YYYY-Www" key in the reference timezone.
func (s *Service) ParseWeek(key string) (domain.WeekWindow, error) {
	return domain.ParseWeek(key, s.loc)
}

// CurrentWeek returns the week that is open now.
func (s *Service) CurrentWeek() domain.WeekWindow {
	return domain.WeekOf(s.now(), s.loc)
}

// SettleAccount settles one user's week. alreadySettled is true, with the
// stored record and no error, when an earlier run got there first.
func (s *Service) SettleAccount(ctx context.Context, userID string, week domain.WeekWindow) (domain.Settlement, bool, error) {
	if userID == "" {
		return domain.Settlement{}, false, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}

	now := s.now()
	openFrom := week.End
	if cur := domain.WeekOf(now, s.loc); cur.Start.After(openFrom) {
		openFrom = cur.Start
	}

	st, err := s.store.SettleWeek(ctx, userID, week, openFrom, now.UTC(), credibility.WeeklyOutcome)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadySettled):
		metrics.Settlements.WithLabelValues("noop").Inc()
		s.log.Debug("week already settled", zap.String("user_id", userID), zap.String("week", week.Key))
		return st, true, nil
	case errors.Is(err, domain.ErrFatalInconsistency):
		metrics.Settlements.WithLabelValues("failed").Inc()
		metrics.FatalInconsistencies.Inc()
		s.log.Error("settlement claimed without applied delta",
			zap.String("user_id", userID), zap.String("week", week.Key),
			zap.String("state", string(st.State)), zap.Error(err))
		return st, false, err
	default:
		metrics.Settlements.WithLabelValues("failed").Inc()
		return st, false, err
	}

	result, kind := "bonus", domain.EntryCompletionBonus
	if st.Outcome.Penalty != 0 {
		result, kind = "penalty", domain.EntryFailurePenalty
	}
	metrics.Settlements.WithLabelValues(result).Inc()
	metrics.CredibilityApplied.WithLabelValues(string(kind)).Add(st.Outcome.Net)

	s.log.Info("week settled",
		zap.String("user_id", userID),
		zap.String("week", week.Key),
		zap.Int("frequency", st.Frequency),
		zap.Int("progress", st.Progress),
		zap.Float64("net", st.Outcome.Net))

	e := notify.NewEvent(domain.EventWeekSettled, userID, now.UTC())
	e.Week = week.Key
	e.Delta = st.Outcome.Net
	notify.Emit(ctx, s.pub, s.log, e)

	return st, false, nil
}

// ─── Weekly Run ─────────────────────────────────────────────────────────────

// Report summarises one SettleWeek run.
type Report struct {
	Week     string        `json:"week"`
	Accounts int           `json:"accounts"`
	Settled  int           `json:"settled"`
	Already  int           `json:"already_settled"`
	Failed   int           `json:"failed"`
	Net      float64       `json:"net"`
	Duration time.Duration `json:"duration_ns"`
	Errors   []string      `json:"errors,omitempty"`

	errs []error
}

// Err joins every per-account failure.
func (r Report) Err() error {
	return errors.Join(r.errs...)
}

// SettleWeek settles every account created before the week ended. Per-account
// failures are collected in the report; the run itself only fails when the
// week is still open or the account list cannot be read.
func (s *Service) SettleWeek(ctx context.Context, week domain.WeekWindow) (Report, error) {
	report := Report{Week: week.Key}
	if s.now().Before(week.End) {
		return report, fmt.Errorf("%w: week %s has not ended", domain.ErrValidation, week.Key)
	}

	start := time.Now()
	defer func() {
		metrics.SettlementRunDuration.Observe(time.Since(start).Seconds())
	}()

	users, err := s.store.AccountsCreatedBefore(ctx, week.End)
	if err != nil {
		return report, err
	}
	report.Accounts = len(users)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, userID := range users {
		g.Go(func() error {
			st, already, err := s.SettleAccount(ctx, userID, week)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				report.errs = append(report.errs, fmt.Errorf("%s: %w", userID, err))
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", userID, err))
			case already:
				report.Already++
			default:
				report.Settled++
				report.Net += st.Outcome.Net
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	s.log.Info("settlement run complete",
		zap.String("week", week.Key),
		zap.Int("accounts", report.Accounts),
		zap.Int("settled", report.Settled),
		zap.Int("already_settled", report.Already),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// SettleDue settles the week before the current one.
func (s *Service) SettleDue(ctx context.Context) (Report, error) {
	return s.SettleWeek(ctx, s.CurrentWeek().Previous())
}
