// Package maintenance runs the periodic cleanup sweeps of the raid store:
// expired cooldowns and stale ground items.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/config"
	"github.com/cory-johannsen/raidbot/internal/observability"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// Job names, also used as metric labels.
const (
	JobCooldowns = "cooldowns"
	JobGround    = "ground"
)

// Sweeper deletes rows nobody will read again on cron schedules.
type Sweeper struct {
	store   storage.Store
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	cron    *cron.Cron
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithMetrics records swept row counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New registers the sweeps named by cfg. An empty spec disables that sweep.
//
// Precondition: cfg passed config validation; store and logger are non-nil.
// Postcondition: the schedules are registered but not running until Start.
func New(store storage.Store, cfg config.MaintenanceConfig, logger *zap.Logger, opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		store:  store,
		ttl:    cfg.GroundTTL,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, job := range []struct {
		name, spec string
		run        func(context.Context) (int64, error)
	}{
		{JobCooldowns, cfg.CooldownSweep, s.SweepCooldowns},
		{JobGround, cfg.GroundSweep, s.SweepGround},
	} {
		if job.spec == "" {
			continue
		}
		name, run := job.name, job.run
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(name, run) }); err != nil {
			return nil, fmt.Errorf("maintenance: scheduling %s sweep %q: %w", name, job.spec, err)
		}
	}
	return s, nil
}

// Jobs returns the number of registered sweeps.
func (s *Sweeper) Jobs() int {
	return len(s.cron.Entries())
}

// SweepCooldowns deletes every cooldown that has already expired.
func (s *Sweeper) SweepCooldowns(ctx context.Context) (int64, error) {
	n, err := s.store.SweepCooldowns(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("maintenance: sweeping cooldowns: %w", err)
	}
	return n, nil
}

// SweepGround deletes ground items dropped more than the configured TTL ago.
func (s *Sweeper) SweepGround(ctx context.Context) (int64, error) {
	n, err := s.store.SweepGround(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("maintenance: sweeping ground items: %w", err)
	}
	return n, nil
}

// RunOnce runs every sweep immediately, recording results like a scheduled
// run. Disabled sweeps run too.
func (s *Sweeper) RunOnce() {
	s.runJob(JobCooldowns, s.SweepCooldowns)
	s.runJob(JobGround, s.SweepGround)
}

func (s *Sweeper) runJob(name string, run func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := run(ctx)
	if err != nil {
		s.logger.Error("sweep failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.metrics.Swept(name, n)
	s.logger.Info("sweep finished", zap.String("job", name), zap.Int64("deleted", n))
}

// Start runs the cron scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running sweeps to finish or ctx to
// end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
