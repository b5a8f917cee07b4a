package publish

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/models"
)

// Tracker records publish failures per entity and decides when an entity is
// eligible for re-dispatch. Backoff doubles per failure: base, 2x, 4x.
type Tracker struct {
	logger arbor.ILogger

	maxRetries int
	baseDelay  time.Duration

	mu      sync.RWMutex
	entries map[string]*models.RetryInfo // key: entityType + "/" + entityID

	now func() time.Time
}

// NewTracker creates a retry tracker
func NewTracker(maxRetries int, baseDelay time.Duration, logger arbor.ILogger) *Tracker {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}

	return &Tracker{
		logger:     logger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		entries:    make(map[string]*models.RetryInfo),
		now:        time.Now,
	}
}

func retryKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// RecordFailure increments the failure count and schedules the next attempt
// with exponential backoff
func (t *Tracker) RecordFailure(entityType, entityID, errorMsg string) *models.RetryInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := retryKey(entityType, entityID)
	info, ok := t.entries[key]
	if !ok {
		info = &models.RetryInfo{EntityID: entityID}
		t.entries[key] = info
	}

	info.RetryCount++
	info.LastError = errorMsg
	backoff := t.baseDelay << uint(info.RetryCount-1)
	info.NextRetryAt = t.now().Add(backoff)
	info.WillRetry = info.RetryCount < t.maxRetries

	t.logger.Warn().
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Int("retry_count", info.RetryCount).
		Dur("backoff", backoff).
		Str("error", errorMsg).
		Msg("Publish failed, backoff recorded")

	snapshot := *info
	return &snapshot
}

// ShouldRetry returns true while the entity's failure count is under the
// retry budget. Entities with no recorded failures always qualify.
func (t *Tracker) ShouldRetry(entityType, entityID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.entries[retryKey(entityType, entityID)]
	if !ok {
		return true
	}
	return info.RetryCount < t.maxRetries
}

// IsReadyForRetry returns true when the entity's backoff window has elapsed.
// Entities with no recorded failures are always ready.
func (t *Tracker) IsReadyForRetry(entityType, entityID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.entries[retryKey(entityType, entityID)]
	if !ok {
		return true
	}
	return !t.now().Before(info.NextRetryAt)
}

// ClearRetries drops the failure record for an entity, typically after a
// successful publish
func (t *Tracker) ClearRetries(entityType, entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, retryKey(entityType, entityID))
}

// RetryInfo returns a snapshot of the entity's failure record, or nil when
// none exists
func (t *Tracker) RetryInfo(entityType, entityID string) *models.RetryInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.entries[retryKey(entityType, entityID)]
	if !ok {
		return nil
	}
	snapshot := *info
	return &snapshot
}
