package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/common"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
)

// BatchManager groups N jobs under one batch id. It owns batch metadata but
// only observes job rows; counters are always a live aggregation over member
// jobs.
type BatchManager struct {
	jobs       interfaces.JobService
	storage    interfaces.BatchStorage
	jobStorage interfaces.JobStorage
	logger     arbor.ILogger

	now func() time.Time
}

// NewBatchManager creates a new batch manager
func NewBatchManager(jobs interfaces.JobService, storage interfaces.BatchStorage, jobStorage interfaces.JobStorage, logger arbor.ILogger) *BatchManager {
	return &BatchManager{
		jobs:       jobs,
		storage:    storage,
		jobStorage: jobStorage,
		logger:     logger,
		now:        time.Now,
	}
}

// EnqueueBatch enqueues one job per operation under the batch id (generated
// when empty) and records the batch
func (m *BatchManager) EnqueueBatch(ctx context.Context, operations []interfaces.BatchOperation, opts interfaces.EnqueueOptions, batchID, pluginID string) (string, error) {
	if len(operations) == 0 {
		return "", fmt.Errorf("batch requires at least one operation")
	}
	if batchID == "" {
		batchID = common.NewBatchID()
	}

	batch := &models.Batch{
		BatchID:    batchID,
		PluginID:   pluginID,
		CreatedAt:  m.now(),
		JobIDs:     make([]string, 0, len(operations)),
		Operations: make([]string, 0, len(operations)),
	}

	for _, op := range operations {
		jobOpts := opts
		jobOpts.Metadata = make(map[string]string, len(opts.Metadata)+1)
		for k, v := range opts.Metadata {
			jobOpts.Metadata[k] = v
		}
		jobOpts.Metadata[models.MetadataKeyBatchID] = batchID

		jobID, err := m.jobs.Enqueue(ctx, op.JobType, op.Data, jobOpts, pluginID)
		if err != nil {
			return "", fmt.Errorf("failed to enqueue batch operation %s: %w", op.Name, err)
		}

		batch.JobIDs = append(batch.JobIDs, jobID)
		batch.Operations = append(batch.Operations, op.Name)
	}

	if err := m.storage.SaveBatch(ctx, batch); err != nil {
		return "", fmt.Errorf("failed to save batch: %w", err)
	}

	m.logger.Info().
		Str("batch_id", batchID).
		Str("plugin_id", pluginID).
		Int("operations", len(operations)).
		Msg("Batch enqueued")

	return batchID, nil
}

// BatchStatus aggregates live status over member jobs. Unknown ids return
// (nil, nil).
func (m *BatchManager) BatchStatus(ctx context.Context, batchID string) (*models.BatchStatus, error) {
	batch, err := m.storage.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}

	status := &models.BatchStatus{
		BatchID:         batch.BatchID,
		PluginID:        batch.PluginID,
		TotalOperations: len(batch.JobIDs),
		CreatedAt:       batch.CreatedAt,
	}

	jobs, err := m.jobStorage.GetJobs(ctx, batch.JobIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}

	active := 0
	allPending := true
	for i, jobID := range batch.JobIDs {
		job, ok := byID[jobID]
		if !ok {
			continue
		}

		switch job.Status {
		case models.JobStatusCompleted:
			status.CompletedOperations++
			allPending = false
		case models.JobStatusFailed:
			status.FailedOperations++
			allPending = false
			if job.LastError != "" {
				status.Errors = append(status.Errors, fmt.Sprintf("%s: %s", operationName(batch, i), job.LastError))
			}
		case models.JobStatusRunning:
			active++
			allPending = false
			if status.CurrentOperation == "" {
				status.CurrentOperation = operationName(batch, i)
			}
		case models.JobStatusPending:
			active++
			// A retrying job is not "queued"; it has already run
			if job.RetryCount > 0 {
				allPending = false
			}
		}
	}

	switch {
	case active > 0 && allPending:
		status.Status = models.BatchStateQueued
	case active > 0:
		status.Status = models.BatchStateProcessing
	case status.FailedOperations > 0:
		status.Status = models.BatchStateFailed
	default:
		status.Status = models.BatchStateCompleted
	}

	return status, nil
}

// ActiveBatches returns batches whose derived status is not terminal
func (m *BatchManager) ActiveBatches(ctx context.Context) ([]*models.BatchStatus, error) {
	batches, err := m.storage.ListBatches(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.BatchStatus, 0)
	for _, batch := range batches {
		status, err := m.BatchStatus(ctx, batch.BatchID)
		if err != nil {
			return nil, err
		}
		if status != nil && !status.IsTerminal() {
			active = append(active, status)
		}
	}
	return active, nil
}

func operationName(batch *models.Batch, index int) string {
	if index < len(batch.Operations) && batch.Operations[index] != "" {
		return batch.Operations[index]
	}
	return batch.JobIDs[index]
}
