package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrJobNotFound is returned when a job id does not exist
var ErrJobNotFound = fmt.Errorf("job not found")

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetJobs fetches the jobs for the given ids, skipping ids that no longer
// exist
func (s *JobStorage) GetJobs(ctx context.Context, jobIDs []string) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// NextDueJob returns the due pending job with highest priority, oldest
// creation time first among equals. Due filtering happens in memory because
// the candidate set is bounded by the pending status index.
func (s *JobStorage) NextDueJob(ctx context.Context, now time.Time) (*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusPending)); err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}

	due := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if jobs[i].IsDue(now) {
			due = append(due, &jobs[i])
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	return due[0], nil
}

func (s *JobStorage) JobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ActiveJobsByType(ctx context.Context, jobType string) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Type").Eq(jobType)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by type: %w", err)
	}

	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if jobs[i].Status == models.JobStatusPending || jobs[i].Status == models.JobStatusRunning {
			result = append(result, &jobs[i])
		}
	}
	return result, nil
}

func (s *JobStorage) CountByStatus(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{}

	counts := []struct {
		status models.JobStatus
		target *int
	}{
		{models.JobStatusPending, &stats.Pending},
		{models.JobStatusRunning, &stats.Running},
		{models.JobStatusCompleted, &stats.Completed},
		{models.JobStatusFailed, &stats.Failed},
	}

	for _, c := range counts {
		n, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(c.status))
		if err != nil {
			return nil, fmt.Errorf("failed to count jobs by status: %w", err)
		}
		*c.target = int(n)
	}

	return stats, nil
}

func (s *JobStorage) StaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.Job, error) {
	running, err := s.JobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-olderThan)
	stale := make([]*models.Job, 0)
	for _, job := range running {
		heartbeat := job.StartedAt
		if job.LastHeartbeat != nil {
			heartbeat = job.LastHeartbeat
		}
		if heartbeat != nil && heartbeat.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}

// ResetRunningJobs returns jobs persisted as running by a prior run to
// pending. Interrupted jobs keep their retry budget.
func (s *JobStorage) ResetRunningJobs(ctx context.Context) (int, error) {
	running, err := s.JobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, job := range running {
		job.Status = models.JobStatusPending
		job.StartedAt = nil
		job.LastHeartbeat = nil
		if err := s.SaveJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reset orphaned job")
			continue
		}
		reset++
	}

	if reset > 0 {
		s.logger.Info().Int("count", reset).Msg("Orphaned running jobs returned to pending")
	}
	return reset, nil
}
