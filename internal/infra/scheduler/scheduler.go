// Package scheduler runs calendar-driven background jobs.
//
// Core concepts:
//   - Jobs fire on wall-clock times in one reference timezone
//   - Singleton mode: a run that overlaps the previous one is rescheduled, never doubled
//   - Shutdown cancels the context handed to running tasks
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Task is a unit of scheduled work.
type Task func(ctx context.Context)

// Scheduler wraps a gocron scheduler bound to one timezone.
type Scheduler struct {
	s      gocron.Scheduler
	loc    *time.Location
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler. Call Start to begin firing jobs.
func New(loc *time.Location, log *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("scheduler")

	s, err := gocron.NewScheduler(
		gocron.WithLocation(loc),
		gocron.WithLogger(gocronLogger{log.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{s: s, loc: loc, log: log, ctx: ctx, cancel: cancel}, nil
}

// Weekly registers task to fire every week on day at hour:minute local time.
func (s *Scheduler) Weekly(name string, day time.Weekday, hour, minute uint, task Task) error {
	_, err := s.s.NewJob(
		gocron.WeeklyJob(1,
			gocron.NewWeekdays(day),
			gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0)),
		),
		gocron.NewTask(s.wrap(name, task)),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.log.Info("job registered",
		zap.String("job", name),
		zap.String("day", day.String()),
		zap.String("at", fmt.Sprintf("%02d:%02d", hour, minute)),
		zap.String("tz", s.loc.String()))
	return nil
}

// Once runs task a single time, as soon as the scheduler is started.
func (s *Scheduler) Once(name string, task Task) error {
	_, err := s.s.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(s.wrap(name, task)),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return nil
}

// NextRun returns when the named job fires next. Zero if unknown or not yet
// scheduled.
func (s *Scheduler) NextRun(name string) time.Time {
	for _, j := range s.s.Jobs() {
		if j.Name() != name {
			continue
		}
		next, err := j.NextRun()
		if err != nil {
			return time.Time{}
		}
		return next
	}
	return time.Time{}
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.s.Start()
}

// Shutdown stops the scheduler and cancels running tasks' context.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.s.Shutdown()
}

func (s *Scheduler) wrap(name string, task Task) func() {
	return func() {
		start := time.Now()
		s.log.Debug("job started", zap.String("job", name))
		task(s.ctx)
		s.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

// gocronLogger adapts zap to gocron's key/value logger.
type gocronLogger struct {
	l *zap.SugaredLogger
}

func (g gocronLogger) Debug(msg string, args ...any) { g.l.Debugw(msg, args...) }
func (g gocronLogger) Info(msg string, args ...any)  { g.l.Infow(msg, args...) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.l.Warnw(msg, args...) }
func (g gocronLogger) Error(msg string, args ...any) { g.l.Errorw(msg, args...) }
