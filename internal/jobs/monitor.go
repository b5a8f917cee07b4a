package jobs

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
)

// Monitor observes job lifecycle transitions and forwards them onto the bus
// as broadcast events. Jobs that belong to a batch additionally produce
// batch:progress and, on the batch reaching a terminal state,
// batch:completed or batch:failed.
type Monitor struct {
	bus     interfaces.MessageBus
	batches interfaces.BatchService
	logger  arbor.ILogger

	mu      sync.Mutex
	enabled bool
}

// NewMonitor creates a new progress monitor
func NewMonitor(bus interfaces.MessageBus, logger arbor.ILogger) *Monitor {
	return &Monitor{
		bus:    bus,
		logger: logger,
	}
}

// SetBatchService wires batch aggregation for batch member jobs
func (m *Monitor) SetBatchService(batches interfaces.BatchService) {
	m.batches = batches
}

// Start enables event emission. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.logger.Info().Msg("Job progress monitor started")
}

// Stop disables event emission. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	m.logger.Info().Msg("Job progress monitor stopped")
}

// IsRunning returns true while the monitor emits events
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// JobStarted implements JobObserver
func (m *Monitor) JobStarted(ctx context.Context, job *models.Job) {
	m.emit(ctx, interfaces.MessageJobStarted, map[string]any{
		"job_id":   job.ID,
		"type":     job.Type,
		"metadata": job.Metadata,
	})
}

// JobProgress implements JobObserver
func (m *Monitor) JobProgress(ctx context.Context, job *models.Job, current, total int, message string) {
	payload := map[string]any{
		"job_id":  job.ID,
		"current": current,
		"total":   total,
	}
	if message != "" {
		payload["message"] = message
	}
	m.emit(ctx, interfaces.MessageJobProgress, payload)

	if batchID := job.BatchID(); batchID != "" {
		m.emitBatchProgress(ctx, batchID)
	}
}

// JobCompleted implements JobObserver
func (m *Monitor) JobCompleted(ctx context.Context, job *models.Job) {
	m.emit(ctx, interfaces.MessageJobCompleted, map[string]any{
		"job_id": job.ID,
		"result": rawToAny(job.Result),
	})
	m.observeBatchTransition(ctx, job)
}

// JobFailed implements JobObserver
func (m *Monitor) JobFailed(ctx context.Context, job *models.Job, errorMsg string, willRetry bool) {
	m.emit(ctx, interfaces.MessageJobFailed, map[string]any{
		"job_id":      job.ID,
		"error":       errorMsg,
		"retry_count": job.RetryCount,
		"will_retry":  willRetry,
	})
	if !willRetry {
		m.observeBatchTransition(ctx, job)
	}
}

// observeBatchTransition re-aggregates the batch after a member reached a
// terminal state
func (m *Monitor) observeBatchTransition(ctx context.Context, job *models.Job) {
	batchID := job.BatchID()
	if batchID == "" || m.batches == nil {
		return
	}

	status, err := m.batches.BatchStatus(ctx, batchID)
	if err != nil || status == nil {
		if err != nil {
			m.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to aggregate batch status")
		}
		return
	}

	m.emit(ctx, interfaces.MessageBatchProgress, batchProgressPayload(status))

	if !status.IsTerminal() {
		return
	}

	if status.Status == models.BatchStateFailed {
		m.emit(ctx, interfaces.MessageBatchFailed, map[string]any{
			"batch_id":          status.BatchID,
			"failed_operations": status.FailedOperations,
			"errors":            status.Errors,
		})
		return
	}
	m.emit(ctx, interfaces.MessageBatchCompleted, map[string]any{
		"batch_id":             status.BatchID,
		"completed_operations": status.CompletedOperations,
	})
}

func (m *Monitor) emitBatchProgress(ctx context.Context, batchID string) {
	if m.batches == nil {
		return
	}
	status, err := m.batches.BatchStatus(ctx, batchID)
	if err != nil || status == nil {
		return
	}
	m.emit(ctx, interfaces.MessageBatchProgress, batchProgressPayload(status))
}

func batchProgressPayload(status *models.BatchStatus) map[string]any {
	return map[string]any{
		"batch_id":             status.BatchID,
		"status":               string(status.Status),
		"total_operations":     status.TotalOperations,
		"completed_operations": status.CompletedOperations,
		"failed_operations":    status.FailedOperations,
		"current_operation":    status.CurrentOperation,
	}
}

func (m *Monitor) emit(ctx context.Context, topic interfaces.MessageType, payload map[string]any) {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()
	if !enabled {
		return
	}

	m.bus.Send(ctx, interfaces.Message{
		Type:      topic,
		Payload:   payload,
		Source:    "job-monitor",
		Broadcast: true,
	})
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
