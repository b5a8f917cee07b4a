package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/storage/badger"
)

const (
	// Shell-owned job types. Already namespaced so they bypass the plugin
	// prefix.
	JobTypeStorageGC    = "system:storage_gc"
	JobTypeStaleJobScan = "system:stale_job_scan"
)

// gcHandler runs BadgerDB value-log garbage collection as a queue job
type gcHandler struct {
	db     *badger.BadgerDB
	logger arbor.ILogger
}

func (h *gcHandler) ValidateAndParse(data json.RawMessage) (any, error) {
	// No payload required
	return nil, nil
}

func (h *gcHandler) Process(_ context.Context, _ any, jobID string, _ interfaces.ProgressReporter) (any, error) {
	reclaimed := h.db.RunGC()
	h.logger.Debug().
		Str("job_id", jobID).
		Bool("reclaimed", reclaimed).
		Msg("Storage garbage collection ran")
	return map[string]bool{"reclaimed": reclaimed}, nil
}

// staleScanPayload configures one stale-job sweep
type staleScanPayload struct {
	OlderThan string `json:"older_than,omitempty"` // Duration; defaults to the configured stale threshold
}

// staleScanHandler fails running jobs whose heartbeat stopped. The retry
// policy then decides whether they re-enter pending.
type staleScanHandler struct {
	storage   interfaces.JobStorage
	jobs      interfaces.JobService
	threshold time.Duration
	logger    arbor.ILogger
}

func (h *staleScanHandler) ValidateAndParse(data json.RawMessage) (any, error) {
	payload := &staleScanPayload{}
	if len(data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("invalid stale scan payload: %w", err)
	}
	if payload.OlderThan != "" {
		if _, err := time.ParseDuration(payload.OlderThan); err != nil {
			return nil, fmt.Errorf("invalid older_than duration: %w", err)
		}
	}
	return payload, nil
}

func (h *staleScanHandler) Process(ctx context.Context, parsed any, jobID string, _ interfaces.ProgressReporter) (any, error) {
	payload := parsed.(*staleScanPayload)

	threshold := h.threshold
	if payload.OlderThan != "" {
		threshold, _ = time.ParseDuration(payload.OlderThan)
	}

	stale, err := h.storage.StaleJobs(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for stale jobs: %w", err)
	}

	failed := 0
	for _, job := range stale {
		if job.ID == jobID {
			continue
		}
		if err := h.jobs.Fail(ctx, job.ID, fmt.Errorf("heartbeat timeout after %s", threshold)); err != nil {
			h.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to fail stale job")
			continue
		}
		failed++
	}

	if failed > 0 {
		h.logger.Warn().
			Int("count", failed).
			Dur("threshold", threshold).
			Msg("Stale jobs failed for retry")
	}
	return map[string]int{"stale": len(stale), "failed": failed}, nil
}
