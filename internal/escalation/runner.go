package escalation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/logging"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultPurgeSpec     = "@every 1h"
	DefaultPruneSpec     = "@daily"
)

// SessionPurger removes expired login sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// AuditPruner removes audit events past retention.
type AuditPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// RunnerConfig controls the background schedule.
type RunnerConfig struct {
	SweepInterval time.Duration
	PurgeSpec     string
	PruneSpec     string
	Location      *time.Location
}

// Runner drives periodic sweeps and housekeeping on a cron scheduler. Jobs
// never overlap themselves and a panicking job does not stop the scheduler.
type Runner struct {
	cron     *cron.Cron
	engine   *Engine
	sessions SessionPurger
	pruner   AuditPruner
	logger   *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	runs      atomic.Int64
	failures  atomic.Int64
	mu        sync.RWMutex
	lastSweep SweepReport
	lastAt    time.Time
}

// NewRunner creates a Runner. sessions and pruner may be nil.
func NewRunner(engine *Engine, sessions SessionPurger, pruner AuditPruner, cfg RunnerConfig, logger *zerolog.Logger) (*Runner, error) {
	logger = logging.OrNop(logger)
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.PurgeSpec == "" {
		cfg.PurgeSpec = DefaultPurgeSpec
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = DefaultPruneSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	cronLogger := cronLogAdapter{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		engine:   engine,
		sessions: sessions,
		pruner:   pruner,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), r.sweep); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	if sessions != nil {
		if _, err := r.cron.AddFunc(cfg.PurgeSpec, r.purgeSessions); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule session purge: %w", err)
		}
	}
	if pruner != nil {
		if _, err := r.cron.AddFunc(cfg.PruneSpec, r.pruneAudit); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule audit prune: %w", err)
		}
	}

	return r, nil
}

// Start begins running jobs in the background.
func (r *Runner) Start() {
	r.logger.Info().Int("jobs", len(r.cron.Entries())).Msg("escalation runner starting")
	r.cron.Start()
}

// Stop cancels in-flight jobs and waits for them to return or for ctx to end.
func (r *Runner) Stop(ctx context.Context) {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info().Msg("escalation runner stopped")
	case <-ctx.Done():
		r.logger.Warn().Msg("escalation runner stop timed out")
	}
}

// Runs reports how many sweeps have been attempted, failed ones included.
func (r *Runner) Runs() int64 {
	return r.runs.Load()
}

// Failures reports how many sweeps returned an error or panicked.
func (r *Runner) Failures() int64 {
	return r.failures.Load()
}

// LastSweep returns the most recent sweep report and when it finished.
func (r *Runner) LastSweep() (SweepReport, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSweep, r.lastAt
}

func (r *Runner) sweep() {
	r.runs.Add(1)
	defer func() {
		if rec := recover(); rec != nil {
			r.failures.Add(1)
			panic(rec) // cron.Recover logs it
		}
	}()

	report, err := r.engine.RunSweepOnce(r.ctx)
	if err != nil {
		r.failures.Add(1)
		r.logger.Error().Err(err).Msg("escalation sweep failed")
		return
	}

	r.mu.Lock()
	r.lastSweep = report
	r.lastAt = time.Now()
	r.mu.Unlock()
}

func (r *Runner) purgeSessions() {
	if _, err := r.sessions.PurgeExpiredSessions(r.ctx); err != nil {
		r.logger.Warn().Err(err).Msg("session purge failed")
	}
}

func (r *Runner) pruneAudit() {
	pruned, err := r.pruner.Prune(r.ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("audit prune failed")
		return
	}
	if pruned > 0 {
		r.logger.Info().Int64("pruned", pruned).Msg("audit events pruned")
	}
}

// cronLogAdapter routes cron's logr-style logging to zerolog.
type cronLogAdapter struct {
	logger *zerolog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
