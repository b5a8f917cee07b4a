package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/memoro/internal/models"
)

// JobStorage persists job records. Only the job service writes through it.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// GetJobs fetches the jobs for the given ids; missing ids are skipped
	GetJobs(ctx context.Context, jobIDs []string) ([]*models.Job, error)

	// NextDueJob returns the pending job with scheduledFor <= now, ordered
	// by priority desc then createdAt asc. Returns nil when none is due.
	NextDueJob(ctx context.Context, now time.Time) (*models.Job, error)

	JobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	ActiveJobsByType(ctx context.Context, jobType string) ([]*models.Job, error)
	CountByStatus(ctx context.Context) (*models.JobStats, error)

	// StaleJobs returns running jobs whose heartbeat is older than the
	// threshold
	StaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.Job, error)

	// ResetRunningJobs returns orphaned running jobs to pending. Called on
	// startup before the worker starts.
	ResetRunningJobs(ctx context.Context) (int, error)
}

// BatchStorage persists batch metadata records
type BatchStorage interface {
	SaveBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, batchID string) (*models.Batch, error)
	ListBatches(ctx context.Context) ([]*models.Batch, error)
}
