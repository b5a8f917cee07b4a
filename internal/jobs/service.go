package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/common"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
)

// ErrNoJob is returned by ClaimNext when no job is due
var ErrNoJob = errors.New("no job available")

// ServiceConfig configures the job service retry policy
type ServiceConfig struct {
	MaxRetries     int           // Default retry budget per job
	RetryBaseDelay time.Duration // Base backoff, doubles each attempt
}

// Service owns job rows and the handler registry. All job state changes go
// through it; workers and handlers never write to storage directly.
type Service struct {
	storage  interfaces.JobStorage
	config   ServiceConfig
	logger   arbor.ILogger
	observer interfaces.JobObserver

	handlers  map[string]interfaces.JobHandler
	handlerMu sync.RWMutex

	// claimMu makes claim-and-mark-running atomic across workers
	claimMu sync.Mutex

	now func() time.Time
}

// NewService creates a new job service
func NewService(storage interfaces.JobStorage, config ServiceConfig, logger arbor.ILogger) *Service {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 5 * time.Second
	}

	return &Service{
		storage:  storage,
		config:   config,
		logger:   logger,
		handlers: make(map[string]interfaces.JobHandler),
		now:      time.Now,
	}
}

// SetObserver wires the progress monitor. Must be called before the worker
// starts.
func (s *Service) SetObserver(observer interfaces.JobObserver) {
	s.observer = observer
}

// namespacedType prefixes the plugin id unless the type is already
// namespaced
func namespacedType(jobType, pluginID string) string {
	if pluginID == "" || strings.Contains(jobType, ":") {
		return jobType
	}
	return pluginID + ":" + jobType
}

// Enqueue persists a new pending job and returns its id
func (s *Service) Enqueue(ctx context.Context, jobType string, data any, opts interfaces.EnqueueOptions, pluginID string) (string, error) {
	if jobType == "" {
		return "", fmt.Errorf("job type is required")
	}

	payload, err := marshalPayload(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize job data: %w", err)
	}

	now := s.now()
	scheduledFor := now
	if opts.ScheduledFor != nil {
		scheduledFor = *opts.ScheduledFor
	}
	maxRetries := s.config.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}

	job := &models.Job{
		ID:           common.NewJobID(),
		Type:         namespacedType(jobType, pluginID),
		Data:         payload,
		Status:       models.JobStatusPending,
		Priority:     opts.Priority,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		MaxRetries:   maxRetries,
		Metadata:     opts.Metadata,
		Source:       opts.Source,
	}

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Int("priority", job.Priority).
		Str("source", job.Source).
		Msg("Job enqueued")

	return job.ID, nil
}

// ClaimNext atomically claims the next due pending job. Selection is by
// scheduledFor <= now, then priority desc, then createdAt asc.
func (s *Service) ClaimNext(ctx context.Context) (*models.Job, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	job, err := s.storage.NextDueJob(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to select next job: %w", err)
	}
	if job == nil {
		return nil, ErrNoJob
	}

	job.MarkStarted(s.now())
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if s.observer != nil {
		s.observer.JobStarted(ctx, job)
	}

	return job, nil
}

// Complete marks a job completed with a result
func (s *Service) Complete(ctx context.Context, jobID string, result any) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	payload, err := marshalPayload(result)
	if err != nil {
		return fmt.Errorf("failed to serialize job result: %w", err)
	}

	job.MarkCompleted(s.now(), payload)
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Msg("Job completed")

	if s.observer != nil {
		s.observer.JobCompleted(ctx, job)
	}
	return nil
}

// Fail applies the retry policy: a job with budget remaining returns to
// pending with scheduledFor shifted by exponential backoff, otherwise it
// fails terminally.
func (s *Service) Fail(ctx context.Context, jobID string, jobErr error) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	errorMsg := "unknown error"
	if jobErr != nil {
		errorMsg = jobErr.Error()
	}

	if job.RetryCount+1 <= job.MaxRetries {
		backoff := s.config.RetryBaseDelay << uint(job.RetryCount)
		job.MarkRetrying(s.now(), errorMsg, backoff)
		if err := s.storage.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}

		s.logger.Warn().
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Int("retry_count", job.RetryCount).
			Dur("backoff", backoff).
			Str("error", errorMsg).
			Msg("Job failed, retrying with backoff")

		if s.observer != nil {
			s.observer.JobFailed(ctx, job, errorMsg, true)
		}
		return nil
	}

	return s.failTerminal(ctx, job, errorMsg)
}

// FailTerminal fails a job without consuming retries (validation errors,
// unknown handler types)
func (s *Service) FailTerminal(ctx context.Context, jobID string, jobErr error) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	errorMsg := "unknown error"
	if jobErr != nil {
		errorMsg = jobErr.Error()
	}
	return s.failTerminal(ctx, job, errorMsg)
}

func (s *Service) failTerminal(ctx context.Context, job *models.Job, errorMsg string) error {
	job.MarkFailed(s.now(), errorMsg)
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	s.logger.Error().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Int("retry_count", job.RetryCount).
		Str("error", errorMsg).
		Msg("Job failed terminally")

	if s.observer != nil {
		s.observer.JobFailed(ctx, job, errorMsg, false)
	}
	return nil
}

// ReportProgress updates a job's progress counters
func (s *Service) ReportProgress(ctx context.Context, jobID string, current, total int, message string) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.ProgressCurrent = current
	job.ProgressTotal = total
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job progress: %w", err)
	}

	if s.observer != nil {
		s.observer.JobProgress(ctx, job, current, total, message)
	}
	return nil
}

// Heartbeat updates a job's last heartbeat timestamp
func (s *Service) Heartbeat(ctx context.Context, jobID string) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.UpdateHeartbeat(s.now())
	return s.storage.SaveJob(ctx, job)
}

// GetJob returns a job by id
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.storage.GetJob(ctx, jobID)
}

// Stats returns job counts by status
func (s *Service) Stats(ctx context.Context) (*models.JobStats, error) {
	return s.storage.CountByStatus(ctx)
}

// ActiveJobs returns pending and running jobs, optionally filtered by type
func (s *Service) ActiveJobs(ctx context.Context, jobType string) ([]*models.Job, error) {
	if jobType != "" {
		return s.storage.ActiveJobsByType(ctx, jobType)
	}

	pending, err := s.storage.JobsByStatus(ctx, models.JobStatusPending)
	if err != nil {
		return nil, err
	}
	running, err := s.storage.JobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	return append(pending, running...), nil
}

// RegisterHandler registers a handler under the namespaced job type
func (s *Service) RegisterHandler(jobType string, handler interfaces.JobHandler, pluginID string) {
	key := namespacedType(jobType, pluginID)

	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.handlers[key] = handler

	s.logger.Debug().
		Str("job_type", key).
		Str("plugin_id", pluginID).
		Msg("Job handler registered")
}

// UnregisterPluginHandlers removes all handlers under a plugin's namespace
func (s *Service) UnregisterPluginHandlers(pluginID string) {
	if pluginID == "" {
		return
	}
	prefix := pluginID + ":"

	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	for key := range s.handlers {
		if strings.HasPrefix(key, prefix) {
			delete(s.handlers, key)
		}
	}

	s.logger.Debug().
		Str("plugin_id", pluginID).
		Msg("Plugin job handlers unregistered")
}

// Handler looks up the handler for an exact namespaced type
func (s *Service) Handler(jobType string) (interfaces.JobHandler, bool) {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()

	handler, ok := s.handlers[jobType]
	return handler, ok
}

func marshalPayload(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}
