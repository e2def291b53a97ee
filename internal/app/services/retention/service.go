package retention

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appmetrics "github.com/peertrack/peertrack/internal/app/metrics"
	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/internal/app/system"
	"github.com/peertrack/peertrack/pkg/logger"
)

const (
	// DefaultRetentionDays keeps a month of snapshots.
	DefaultRetentionDays = 30

	// janitorSpec runs the purge hourly; deletions are cheap when there is
	// nothing past the cutoff.
	janitorSpec = "@every 1h"
)

// Service deletes snapshots past their retention window. Order-book entries
// go with their snapshot.
type Service struct {
	snapshots storage.SnapshotStore
	days      int
	log       *logger.Logger
}

// New creates the retention service. Non-positive days takes the default.
func New(snapshots storage.SnapshotStore, days int, log *logger.Logger) *Service {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	if log == nil {
		log = logger.NewDefault("retention")
	}
	return &Service{snapshots: snapshots, days: days, log: log}
}

// RetentionDays reports the configured window.
func (s *Service) RetentionDays() int { return s.days }

// Cleanup removes every snapshot collected before now minus the retention
// window and returns how many were deleted.
func (s *Service) Cleanup(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -s.days)
	deleted, err := s.snapshots.DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		appmetrics.ObserveRetention(deleted)
		s.log.WithFields(logger.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("purged expired snapshots")
	}
	return deleted, nil
}

var _ system.Service = (*Janitor)(nil)

// Janitor runs Cleanup on a schedule.
type Janitor struct {
	svc  *Service
	spec string
	log  *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewJanitor wraps a retention service in a scheduled task. An empty spec
// takes the hourly default.
func NewJanitor(svc *Service, spec string, log *logger.Logger) *Janitor {
	if spec == "" {
		spec = janitorSpec
	}
	if log == nil {
		log = logger.NewDefault("retention-janitor")
	}
	return &Janitor{svc: svc, spec: spec, log: log}
}

func (j *Janitor) Name() string { return "retention-janitor" }

func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.spec, j.sweep); err != nil {
		j.cancel()
		return err
	}
	j.cron.Start()
	j.running = true
	j.log.WithField("retention_days", j.svc.RetentionDays()).Info("retention janitor started")
	return nil
}

func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.cancel()
	stopped := j.cron.Stop()
	j.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (j *Janitor) sweep() {
	j.mu.Lock()
	ctx := j.ctx
	running := j.running
	j.mu.Unlock()
	if !running {
		return
	}
	if _, err := j.svc.Cleanup(ctx, time.Now().UTC()); err != nil {
		j.log.WithError(err).Error("retention sweep failed")
	}
}
