package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/memoro/internal/models"
)

// EnqueueOptions carries optional job attributes at enqueue time
type EnqueueOptions struct {
	Priority     int               // Higher runs first among ready jobs
	ScheduledFor *time.Time        // Defaults to now
	MaxRetries   *int              // Defaults to the configured queue retry budget
	Metadata     map[string]string // interface_id, user_id, operation_type, ...
	Source       string            // Identifies the enqueuer
}

// ProgressReporter is the handler-facing object for emitting progress
// updates. Sub-reporters map their progress onto a segment of the parent's
// range; heartbeats keep long-running jobs from being marked stale.
type ProgressReporter interface {
	Report(current, total int, message string)

	// Sub creates a child reporter covering [offset, offset+span] of this
	// reporter's range
	Sub(offset, span int) ProgressReporter

	StartHeartbeat(interval time.Duration)
	StopHeartbeat()
}

// JobHandler processes jobs of one registered type
type JobHandler interface {
	// ValidateAndParse validates the raw payload. An error marks the job
	// failed without retry.
	ValidateAndParse(data json.RawMessage) (any, error)

	// Process runs the job. The returned result is persisted on completion.
	Process(ctx context.Context, parsed any, jobID string, reporter ProgressReporter) (any, error)
}

// JobObserver receives job lifecycle transitions from the job service
type JobObserver interface {
	JobStarted(ctx context.Context, job *models.Job)
	JobProgress(ctx context.Context, job *models.Job, current, total int, message string)
	JobCompleted(ctx context.Context, job *models.Job)
	JobFailed(ctx context.Context, job *models.Job, errorMsg string, willRetry bool)
}

// JobService owns job rows and the handler registry. It is the single writer
// for job state; workers and handlers mutate jobs only through it.
type JobService interface {
	// Enqueue persists a new pending job. The type is namespaced as
	// "<pluginID>:<type>" unless already namespaced.
	Enqueue(ctx context.Context, jobType string, data any, opts EnqueueOptions, pluginID string) (string, error)

	// ClaimNext atomically claims the next due pending job, marking it
	// running. Returns ErrNoJob when nothing is due.
	ClaimNext(ctx context.Context) (*models.Job, error)

	Complete(ctx context.Context, jobID string, result any) error

	// Fail applies the retry policy: jobs with budget remaining return to
	// pending with exponential backoff, otherwise fail terminally.
	Fail(ctx context.Context, jobID string, jobErr error) error

	// FailTerminal fails a job without retry (validation errors, unknown
	// handler types)
	FailTerminal(ctx context.Context, jobID string, jobErr error) error

	ReportProgress(ctx context.Context, jobID string, current, total int, message string) error
	Heartbeat(ctx context.Context, jobID string) error

	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	Stats(ctx context.Context) (*models.JobStats, error)
	ActiveJobs(ctx context.Context, jobType string) ([]*models.Job, error)

	RegisterHandler(jobType string, handler JobHandler, pluginID string)
	UnregisterPluginHandlers(pluginID string)
	Handler(jobType string) (JobHandler, bool)
}

// BatchOperation describes one member of a batch at enqueue time
type BatchOperation struct {
	Name    string // Logical operation name
	JobType string
	Data    any
}

// BatchService groups N jobs under one batch id and aggregates their status
type BatchService interface {
	// EnqueueBatch enqueues one job per operation under the given batch id
	// (generated when empty) and records the batch.
	EnqueueBatch(ctx context.Context, operations []BatchOperation, opts EnqueueOptions, batchID, pluginID string) (string, error)

	// BatchStatus aggregates live status over member jobs. Unknown ids
	// return (nil, nil).
	BatchStatus(ctx context.Context, batchID string) (*models.BatchStatus, error)

	// ActiveBatches returns batches whose derived status is not terminal
	ActiveBatches(ctx context.Context) ([]*models.BatchStatus, error)
}
