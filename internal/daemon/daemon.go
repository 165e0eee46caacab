package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/api"
	"github.com/credo-app/credo/internal/app/achievement"
	"github.com/credo-app/credo/internal/app/credibility"
	"github.com/credo-app/credo/internal/app/notify"
	"github.com/credo-app/credo/internal/app/settlement"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/health"
	"github.com/credo-app/credo/internal/infra/redisbus"
	"github.com/credo-app/credo/internal/infra/scheduler"
	"github.com/credo-app/credo/internal/infra/sqlite"
)

// Daemon is the core Credo runtime. It wires together all services.
type Daemon struct {
	Config Config
	Log    *zap.Logger
	DB     *sqlite.DB
	Server *api.Server
	cancel context.CancelFunc

	Catalog     *achievement.Catalog
	Ledger      *achievement.Ledger
	Evaluator   *achievement.Evaluator
	Credibility *credibility.Service
	Settlement  *settlement.Service
	Job         *settlement.Job
	Scheduler   *scheduler.Scheduler
	Health      *health.Checker

	Outbox *notify.Outbox
	Redis  *redisbus.Publisher // nil unless events.redis_addr is set
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, _ := cfg.Location()
	retry, _ := cfg.RetryPolicy()

	log, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Open SQLite
	dir := cfg.Store.Dir
	if dir == "" {
		dir = credoHome()
	}
	db, err := sqlite.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	catalog, err := achievement.Load(cfg.Catalog.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	d := &Daemon{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Catalog: catalog,
		Outbox:  notify.NewOutbox(db),
	}

	// Event delivery: outbox always, Redis when configured
	var pub domain.Publisher = d.Outbox
	var extraChecks []health.Check
	if cfg.Events.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rb, err := redisbus.New(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB, cfg.Events.RedisChannel)
		cancel()
		if err != nil {
			log.Warn("redis unavailable, events go to the outbox only", zap.Error(err))
		} else {
			d.Redis = rb
			pub = notify.Multi{d.Outbox, rb}
			extraChecks = append(extraChecks, health.Check{Name: "redis", CheckFn: rb.Ping})
		}
	}

	// Badge engine
	d.Ledger = achievement.NewLedger(db, catalog, pub, log)
	d.Evaluator = achievement.NewEvaluator(db, d.Ledger, catalog, log)

	// Credibility and settlement
	d.Credibility = credibility.NewService(db, log,
		credibility.WithLocation(loc),
		credibility.WithEvaluator(d.Evaluator),
		credibility.WithPublisher(pub))
	d.Settlement = settlement.NewService(db, log,
		settlement.WithLocation(loc),
		settlement.WithConcurrency(cfg.Settlement.Concurrency),
		settlement.WithPublisher(pub))
	d.Job = settlement.NewJob(d.Settlement, retry, log)

	sched, err := scheduler.New(loc, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Scheduler = sched
	if cfg.Settlement.Enabled {
		if err := d.Job.Register(sched, cfg.Settlement.CatchUp); err != nil {
			d.Close()
			return nil, err
		}
	}

	d.Health = health.NewChecker(db, log, extraChecks...)

	d.Server = api.NewServer(api.Deps{
		Credibility: d.Credibility,
		Settlement:  d.Settlement,
		Ledger:      d.Ledger,
		Evaluator:   d.Evaluator,
		Stats:       db,
		Outbox:      d.Outbox,
		Health:      d.Health,
		Log:         log,
	})
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	return d, nil
}

// Serve starts the HTTP server and scheduler and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	d.Scheduler.Start()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("serving",
		zap.String("addr", "http://"+addr),
		zap.String("timezone", d.Settlement.Location().String()),
		zap.Bool("settlement", d.Config.Settlement.Enabled),
		zap.Bool("redis", d.Redis != nil),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus))
	if next := d.Scheduler.NextRun(settlement.JobName); !next.IsZero() {
		d.Log.Info("next settlement", zap.Time("at", next))
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		d.Close()
		return err
	}
	d.Close()
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Scheduler != nil {
		if err := d.Scheduler.Shutdown(); err != nil {
			d.Log.Warn("scheduler shutdown", zap.Error(err))
		}
		d.Scheduler = nil
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
		d.Redis = nil
	}
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
	_ = d.Log.Sync()
}
