package app

import (
	"context"
	"fmt"
	"time"

	"github.com/peertrack/peertrack/internal/app/httpapi"
	"github.com/peertrack/peertrack/internal/app/locking"
	"github.com/peertrack/peertrack/internal/app/services/collector"
	"github.com/peertrack/peertrack/internal/app/services/health"
	"github.com/peertrack/peertrack/internal/app/services/marketdata"
	"github.com/peertrack/peertrack/internal/app/services/registry"
	"github.com/peertrack/peertrack/internal/app/services/retention"
	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/internal/app/storage/memory"
	"github.com/peertrack/peertrack/internal/app/system"
	"github.com/peertrack/peertrack/internal/config"
	"github.com/peertrack/peertrack/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Pairs     storage.PairStore
	Snapshots storage.SnapshotStore
}

// Options carries the pieces main assembles from configuration.
type Options struct {
	Config  *config.Config
	Stores  Stores
	Fetcher collector.Fetcher
	Locker  locking.Locker
	Log     *logger.Logger
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry  *registry.Service
	Collector *collector.Service
	Runner    *collector.TaskRunner
	Market    *marketdata.Service
	Health    *health.Service
	Retention *retention.Service
}

// New builds a fully initialised application.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("app")
	}

	stores := opts.Stores
	mem := memory.New()
	if stores.Pairs == nil {
		stores.Pairs = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		client, err := collector.NewClient(collector.ClientConfig{
			BaseURL:       cfg.Venue.BaseURL,
			Timeout:       cfg.VenueTimeout(),
			RatePerSecond: cfg.Venue.RatePerSecond,
			RateBurst:     cfg.Venue.RateBurst,
			RowsCeiling:   cfg.Venue.RowsCeiling,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure venue client: %w", err)
		}
		fetcher = client
	}

	locker := opts.Locker
	if locker == nil {
		log.Warn("no distributed locker configured; using in-process lock")
		locker = locking.NewMemoryLocker()
	}

	regService := registry.New(stores.Pairs, stores.Snapshots, log)
	collService := collector.New(stores.Pairs, stores.Snapshots, fetcher, log)

	policy := collector.RetryPolicy{
		MaxAttempts:    cfg.Collection.RetryAttempts,
		InitialBackoff: time.Duration(cfg.Collection.RetryInitialMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Collection.RetryMaxMS) * time.Millisecond,
		Factor:         cfg.Collection.RetryFactor,
		Jitter:         0.2,
	}
	runner := collector.NewTaskRunner(collService, cfg.Collection.Workers, policy, cfg.Health.WindowSize, log)
	scheduler := collector.NewScheduler(regService, runner, locker, collector.SchedulerConfig{
		TickSpec: cfg.Collection.TickSchedule,
		LockKey:  cfg.Collection.LockKey,
		LockTTL:  cfg.LockTTL(),
	}, log)

	marketService := marketdata.New(stores.Pairs, stores.Snapshots, fetcher, log)
	retentionService := retention.New(stores.Snapshots, cfg.Retention.Days, log)
	janitor := retention.NewJanitor(retentionService, cfg.Retention.Schedule, log)
	healthService := health.New(stores.Pairs, stores.Snapshots, runner, cfg.Health.ErrorRateThreshold, log)

	manager := system.NewManager()
	for _, svc := range []system.Service{runner, scheduler, janitor} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	app := &Application{
		manager:   manager,
		log:       log,
		Registry:  regService,
		Collector: collService,
		Runner:    runner,
		Market:    marketService,
		Health:    healthService,
		Retention: retentionService,
	}

	server := httpapi.NewServer(cfg.Server.Port, httpapi.NewHandler(httpapi.Deps{
		Registry:  regService,
		Market:    marketService,
		Health:    healthService,
		Retention: retentionService,
		Log:       log,
	}), log)
	if err := manager.Register(server); err != nil {
		return nil, fmt.Errorf("register %s: %w", server.Name(), err)
	}

	return app, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
