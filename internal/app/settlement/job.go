package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/scheduler"
)

// JobName identifies the weekly tick in the scheduler.
const JobName = "weekly-settlement"

// RetryPolicy bounds how long a tick keeps retrying an unavailable store.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy returns production retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		MaxElapsed:      10 * time.Minute,
	}
}

// Job drives SettleDue from the scheduler. Re-running a tick is always safe:
// weeks already settled are reported as such and left alone.
type Job struct {
	svc   *Service
	retry RetryPolicy
	log   *zap.Logger
}

// NewJob creates the weekly job.
func NewJob(svc *Service, retry RetryPolicy, log *zap.Logger) *Job {
	if log == nil {
		log = zap.NewNop()
	}
	return &Job{svc: svc, retry: retry, log: log.Named("settlement-job")}
}

// Register schedules the tick for Monday 00:00 in the service's timezone.
// With catchUp, the previous week is also settled once at startup so a
// missed tick does not wait a full week.
func (j *Job) Register(s *scheduler.Scheduler, catchUp bool) error {
	task := func(ctx context.Context) {
		_, _ = j.Run(ctx)
	}
	if err := s.Weekly(JobName, time.Monday, 0, 0, task); err != nil {
		return err
	}
	if catchUp {
		return s.Once(JobName+"-catch-up", task)
	}
	return nil
}

// Run settles the previous week, retrying while the store is unavailable.
// Other failures are returned at once.
func (j *Job) Run(ctx context.Context) (Report, error) {
	var report Report
	op := func() error {
		r, err := j.svc.SettleDue(ctx)
		report = r
		if err == nil {
			err = r.Err()
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	if j.retry.InitialInterval > 0 {
		b.InitialInterval = j.retry.InitialInterval
	}
	b.MaxElapsedTime = j.retry.MaxElapsed

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		j.log.Warn("settlement run failed, retrying",
			zap.String("week", report.Week), zap.Duration("backoff", d), zap.Error(err))
	})
	if err != nil {
		j.log.Error("settlement run gave up",
			zap.String("week", report.Week), zap.Int("failed", report.Failed), zap.Error(err))
		return report, err
	}
	return report, nil
}
