package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/memoro/internal/common"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/jobs"
	"github.com/ternarybob/memoro/internal/messaging"
	"github.com/ternarybob/memoro/internal/publish"
	"github.com/ternarybob/memoro/internal/registry"
	"github.com/ternarybob/memoro/internal/storage/badger"
)

// App owns the core services and their startup ordering. It implements the
// Shell surface handed to plugins.
//
// Startup contract: plugins register synchronously first; the shell then
// registers its own job handlers, marks itself initialized, broadcasts
// system:plugins:ready and awaits every handler, and only then starts the
// worker, the progress monitor, and the publish scheduler. Pending jobs
// persisted from a prior run must not execute before plugin ready handlers
// complete.
type App struct {
	config *common.Config
	logger arbor.ILogger

	db           *badger.BadgerDB
	bus          *messaging.Bus
	services     *registry.Registry
	jobStorage   interfaces.JobStorage
	batchStorage interfaces.BatchStorage
	jobService   *jobs.Service
	monitor      *jobs.Monitor
	worker       *jobs.Worker
	batches      *jobs.BatchManager
	scheduler    *publish.Scheduler
	plugins      *PluginManager

	mu          sync.Mutex
	initialized bool
	started     bool
}

// New wires the application graph from configuration. Nothing is started;
// call Initialize after adding plugins.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	bus := messaging.NewBus(logger)
	services := registry.NewRegistry(logger)
	jobStorage := badger.NewJobStorage(db, logger)
	batchStorage := badger.NewBatchStorage(db, logger)

	jobService := jobs.NewService(jobStorage, jobs.ServiceConfig{
		MaxRetries:     config.Queue.MaxRetries,
		RetryBaseDelay: config.Queue.RetryBaseDelayDuration(),
	}, logger)

	batches := jobs.NewBatchManager(jobService, batchStorage, jobStorage, logger)

	monitor := jobs.NewMonitor(bus, logger)
	monitor.SetBatchService(batches)
	jobService.SetObserver(monitor)

	worker := jobs.NewWorker(jobService, jobs.WorkerConfig{
		Concurrency:  config.Queue.Concurrency,
		PollInterval: config.Queue.PollIntervalDuration(),
	}, logger)

	queues := publish.NewQueueManager(logger)
	retries := publish.NewTracker(config.Publish.MaxRetries, config.Publish.RetryBaseDelayDuration(), logger)
	providers := publish.NewProviderRegistry(logger)

	scheduler, err := publish.NewScheduler(publish.SchedulerConfig{
		EntitySchedules:   config.Publish.EntitySchedules,
		MaxRetries:        config.Publish.MaxRetries,
		RetryBaseDelay:    config.Publish.RetryBaseDelayDuration(),
		DispatchPerSecond: config.Publish.DispatchPerSecond,
	}, queues, retries, providers, nil, bus, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{
		config:       config,
		logger:       logger,
		db:           db,
		bus:          bus,
		services:     services,
		jobStorage:   jobStorage,
		batchStorage: batchStorage,
		jobService:   jobService,
		monitor:      monitor,
		worker:       worker,
		batches:      batches,
		scheduler:    scheduler,
		plugins:      NewPluginManager(logger),
	}, nil
}

// Shell surface

func (a *App) Bus() interfaces.MessageBus           { return a.bus }
func (a *App) Jobs() interfaces.JobService          { return a.jobService }
func (a *App) Batches() interfaces.BatchService     { return a.batches }
func (a *App) Services() interfaces.ServiceRegistry { return a.services }

// Scheduler returns the publish scheduler
func (a *App) Scheduler() *publish.Scheduler { return a.scheduler }

// AddPlugin registers a plugin for startup. Must be called before
// Initialize.
func (a *App) AddPlugin(plugin interfaces.Plugin) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return fmt.Errorf("cannot add plugin %s after initialization", plugin.ID())
	}
	return a.plugins.Add(plugin)
}

// Initialize runs the startup sequence. Idempotent only in the sense that a
// second call fails fast.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return fmt.Errorf("application already initialized")
	}

	// 1. Plugins register synchronously, in order
	if err := a.plugins.RegisterAll(a); err != nil {
		return err
	}

	// 2. Shell-owned job handlers
	a.registerShellHandlers()

	// 3. Core services resolvable by name
	a.registerCoreServices()

	// 4. Orphaned running jobs from a prior run return to pending before
	// any worker can claim
	reset, err := a.jobStorage.ResetRunningJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset orphaned jobs: %w", err)
	}
	if reset > 0 {
		a.logger.Warn().
			Int("count", reset).
			Msg("Orphaned running jobs reset to pending")
	}

	a.initialized = true

	// 5. Broadcast readiness and await every handler before background work
	resp := a.bus.Send(ctx, interfaces.Message{
		Type:      interfaces.MessageSystemPluginsReady,
		Source:    "app",
		Broadcast: true,
		Payload:   map[string]any{"plugins": a.plugins.IDs()},
	})
	if !resp.Success && !resp.Noop {
		return fmt.Errorf("plugins:ready handlers failed: %s", resp.Error)
	}

	// 6. Background services start only now
	a.monitor.Start()
	if err := a.worker.Start(); err != nil {
		return fmt.Errorf("failed to start job worker: %w", err)
	}
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start publish scheduler: %w", err)
	}
	a.started = true

	a.logger.Info().
		Str("environment", a.config.Environment).
		Int("plugins", len(a.plugins.IDs())).
		Msg("Application initialized")

	return nil
}

func (a *App) registerShellHandlers() {
	a.jobService.RegisterHandler(JobTypeStorageGC, &gcHandler{
		db:     a.db,
		logger: a.logger,
	}, "")
	a.jobService.RegisterHandler(JobTypeStaleJobScan, &staleScanHandler{
		storage:   a.jobStorage,
		jobs:      a.jobService,
		threshold: a.config.Queue.StaleThresholdDuration(),
		logger:    a.logger,
	}, "")
}

func (a *App) registerCoreServices() {
	a.services.Register("bus", func() any { return a.bus })
	a.services.Register("jobs", func() any { return a.jobService })
	a.services.Register("batches", func() any { return a.batches })
	a.services.Register("publish-scheduler", func() any { return a.scheduler })
	a.services.Register("config", func() any { return a.config })
}

// Shutdown stops background services in reverse startup order and closes
// storage. Safe to call once after a failed Initialize.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info().Msg("Shutting down")

	if a.started {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("Publish scheduler stop failed")
		}
		if err := a.worker.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("Job worker stop failed")
		}
		a.monitor.Stop()
		a.started = false
	}

	if err := a.bus.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Message bus close failed")
	}
	a.services.Clear()

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	a.logger.Info().Msg("Shutdown complete")
	return nil
}
