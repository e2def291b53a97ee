package collector

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/peertrack/peertrack/internal/app/locking"
	"github.com/peertrack/peertrack/internal/app/services/registry"
	"github.com/peertrack/peertrack/internal/app/system"
	"github.com/peertrack/peertrack/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

const (
	// defaultTickSpec fires the collection sweep once a minute.
	defaultTickSpec = "@every 1m"

	// defaultTickLockKey guards the sweep cluster-wide: one instance per tick.
	defaultTickLockKey = "peertrack:collector:tick"

	// defaultTickLockTTL bounds how long a crashed holder blocks others.
	defaultTickLockTTL = 10 * time.Minute
)

// SchedulerConfig overrides the tick cadence and lock settings. Zero values
// take the defaults.
type SchedulerConfig struct {
	TickSpec string
	LockKey  string
	LockTTL  time.Duration
}

// Scheduler drives periodic collection. Every tick it takes the cluster
// lock, asks the registry which pairs are due, and hands each one to the
// task runner without waiting for completion. A tick that cannot get the
// lock, or that fires while the previous one is still sweeping, is skipped
// without logging noise.
type Scheduler struct {
	registry *registry.Service
	runner   *TaskRunner
	locker   locking.Locker
	cfg      SchedulerConfig
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	sweeping sync.Mutex
}

// NewScheduler wires the tick loop to the registry and runner.
func NewScheduler(reg *registry.Service, runner *TaskRunner, locker locking.Locker, cfg SchedulerConfig, log *logger.Logger) *Scheduler {
	if cfg.TickSpec == "" {
		cfg.TickSpec = defaultTickSpec
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaultTickLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultTickLockTTL
	}
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{
		registry: reg,
		runner:   runner,
		locker:   locker,
		cfg:      cfg,
		log:      log,
	}
}

func (s *Scheduler) Name() string { return "collection-scheduler" }

// Start begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.TickSpec, s.tick); err != nil {
		s.cancel()
		return err
	}
	s.cron.Start()
	s.running = true
	s.log.WithField("interval", s.cfg.TickSpec).Info("collection scheduler started")
	return nil
}

// Stop halts the tick loop and waits for a tick in progress.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	stopped := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("collection scheduler stopped")
	return nil
}

// tick performs one sweep. It never blocks the cron goroutine on collection
// work: pairs are dispatched to the runner and the lock is released once
// dispatch is done.
func (s *Scheduler) tick() {
	if !s.sweeping.TryLock() {
		// Previous sweep still dispatching; skip this tick.
		return
	}
	defer s.sweeping.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	release, acquired, err := s.locker.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		s.log.WithError(err).Warn("tick lock acquisition failed")
		return
	}
	if !acquired {
		// Another instance owns this tick.
		return
	}
	defer release(ctx)

	due, err := s.registry.DueNow(ctx, time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Error("failed to list due pairs")
		return
	}
	if len(due) == 0 {
		return
	}

	dispatched := 0
	for _, pair := range due {
		if s.runner.Dispatch(pair.ID, false) {
			dispatched++
		}
	}
	s.log.WithFields(logger.Fields{
		"due":        len(due),
		"dispatched": dispatched,
	}).Info("collection sweep dispatched")
}
