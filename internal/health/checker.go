// Package health provides periodic health checks for the store, the weekly
// settlement tick and any optional event transport.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/infra/metrics"
)

// Check defines a single named health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Store is what the built-in checks read.
type Store interface {
	Ping() error
	LatestSettlement(ctx context.Context) (time.Time, error)
}

// Checker runs health checks on an interval and caches the results.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// MaxSettlementAge is how old the newest settlement may be before the tick is
// considered stalled: one week plus a day of slack.
const MaxSettlementAge = 8 * 24 * time.Hour

// NewChecker creates a checker with the sqlite and settlement checks plus any
// extra ones.
func NewChecker(store Store, log *zap.Logger, extra ...Check) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Checker{
		interval: 60 * time.Second,
		log:      log.Named("health"),
		now:      time.Now,
	}
	c.checks = append([]Check{
		{
			Name: "sqlite",
			CheckFn: func(ctx context.Context) error {
				return store.Ping()
			},
		},
		{
			Name: "settlement",
			CheckFn: func(ctx context.Context) error {
				last, err := store.LatestSettlement(ctx)
				if err != nil {
					return err
				}
				return checkSettlementAge(last, c.now())
			},
		},
	}, extra...)
	return c
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check now.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: c.now().UTC(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			c.log.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkSettlementAge(last, now time.Time) error {
	if last.IsZero() {
		return nil // nothing settled yet
	}
	if age := now.Sub(last); age > MaxSettlementAge {
		return fmt.Errorf("last settlement %s ago at %s", age.Round(time.Minute), last.Format(time.RFC3339))
	}
	return nil
}
