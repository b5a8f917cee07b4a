package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
)

// Reporter implements ProgressReporter. Reports flow through the job service
// so the progress monitor observes them. Sub-reporters map their progress
// onto a segment of the parent's range; heartbeats keep long-running jobs
// from being marked stale.
type Reporter struct {
	jobID   string
	service interfaces.JobService
	logger  arbor.ILogger

	parent *Reporter
	offset int
	span   int

	mu        sync.Mutex
	lastTotal int
	hbStop    chan struct{}
}

// NewReporter creates a root reporter for a job
func NewReporter(service interfaces.JobService, jobID string, logger arbor.ILogger) *Reporter {
	return &Reporter{
		jobID:   jobID,
		service: service,
		logger:  logger,
	}
}

// Report emits a progress update
func (r *Reporter) Report(current, total int, message string) {
	if r.parent != nil {
		mapped := r.offset
		if total > 0 {
			mapped = r.offset + (current*r.span)/total
		}
		parentTotal := r.parent.knownTotal()
		if parentTotal == 0 {
			parentTotal = r.offset + r.span
		}
		r.parent.Report(mapped, parentTotal, message)
		return
	}

	r.mu.Lock()
	r.lastTotal = total
	r.mu.Unlock()

	if err := r.service.ReportProgress(context.Background(), r.jobID, current, total, message); err != nil {
		r.logger.Warn().
			Err(err).
			Str("job_id", r.jobID).
			Msg("Failed to report job progress")
	}
}

func (r *Reporter) knownTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTotal
}

// Sub creates a child reporter covering [offset, offset+span] of this
// reporter's range
func (r *Reporter) Sub(offset, span int) interfaces.ProgressReporter {
	return &Reporter{
		jobID:   r.jobID,
		service: r.service,
		logger:  r.logger,
		parent:  r,
		offset:  offset,
		span:    span,
	}
}

// StartHeartbeat launches a heartbeat loop for long-running work. No-op if
// already started.
func (r *Reporter) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	r.mu.Lock()
	if r.hbStop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.hbStop = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := r.service.Heartbeat(context.Background(), r.jobID); err != nil {
					r.logger.Warn().
						Err(err).
						Str("job_id", r.jobID).
						Msg("Failed to record job heartbeat")
				}
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat loop. Idempotent.
func (r *Reporter) StopHeartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hbStop != nil {
		close(r.hbStop)
		r.hbStop = nil
	}
}
