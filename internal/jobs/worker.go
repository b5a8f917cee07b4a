package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
)

// WorkerConfig configures the worker pool
type WorkerConfig struct {
	Concurrency  int           // Number of concurrent workers (default 1)
	PollInterval time.Duration // How often each worker polls for jobs (default 100ms)
}

// Worker polls the job service and dispatches claimed jobs to registered
// handlers. Stop is graceful: no new work is picked up and in-flight jobs
// run to completion.
type Worker struct {
	service interfaces.JobService
	config  WorkerConfig
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker creates a new worker pool
func NewWorker(service interfaces.JobService, config WorkerConfig, logger arbor.ILogger) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}

	return &Worker{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// Start launches the worker goroutines. Idempotent.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true

	w.logger.Info().
		Int("concurrency", w.config.Concurrency).
		Dur("poll_interval", w.config.PollInterval).
		Msg("Starting job worker pool")

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	return nil
}

// Stop halts polling and waits for in-flight jobs to finish. Idempotent.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	w.logger.Info().Msg("Stopping job worker pool")
	cancel()
	w.wg.Wait()

	return nil
}

// IsRunning returns true if the pool is started
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run is the per-worker poll loop
func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	// Stagger worker starts to spread claims across the poll interval
	staggerDelay := (w.config.PollInterval / time.Duration(w.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-time.After(staggerDelay):
		case <-ctx.Done():
			return
		}
	}

	w.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			job, err := w.service.ClaimNext(ctx)
			if err != nil {
				if !errors.Is(err, ErrNoJob) && ctx.Err() == nil {
					w.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error claiming job")
				}
				continue
			}
			w.process(ctx, workerID, job)
		}
	}
}

// process dispatches one claimed job. Handler errors go through the service
// retry policy; the worker keeps running on any single-job failure.
func (w *Worker) process(ctx context.Context, workerID int, job *models.Job) {
	handler, ok := w.service.Handler(job.Type)
	if !ok {
		w.logger.Error().
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Int("worker_id", workerID).
			Msg("No handler registered for job type")
		if err := w.service.FailTerminal(ctx, job.ID, fmt.Errorf("unknown job type: %s", job.Type)); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail job with unknown type")
		}
		return
	}

	parsed, err := handler.ValidateAndParse(job.Data)
	if err != nil {
		w.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Msg("Job payload validation failed")
		if err := w.service.FailTerminal(ctx, job.ID, fmt.Errorf("invalid payload: %w", err)); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail job with invalid payload")
		}
		return
	}

	reporter := NewReporter(w.service, job.ID, w.logger)
	defer reporter.StopHeartbeat()

	startTime := time.Now()
	result, handlerErr := w.invoke(ctx, handler, parsed, job.ID, reporter)
	duration := time.Since(startTime)

	if handlerErr != nil {
		w.logger.Error().
			Err(handlerErr).
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
		if err := w.service.Fail(ctx, job.ID, handlerErr); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record job failure")
		}
		return
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job processed successfully")

	if err := w.service.Complete(ctx, job.ID, result); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record job completion")
	}
}

// invoke runs the handler with panic recovery
func (w *Worker) invoke(ctx context.Context, handler interfaces.JobHandler, parsed any, jobID string, reporter interfaces.ProgressReporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("job_id", jobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in job handler")
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler.Process(ctx, parsed, jobID, reporter)
}
