package models

import (
	"time"
)

// QueueEntry is one queued item in a per-entity-type publish queue.
// Positions are 1-based and recomputed after every mutation.
type QueueEntry struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Position   int       `json:"position"`
	QueuedAt   time.Time `json:"queued_at"`
}

// RetryInfo tracks publish failures for one entity
type RetryInfo struct {
	EntityID    string    `json:"entity_id"`
	RetryCount  int       `json:"retry_count"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at"`
	WillRetry   bool      `json:"will_retry"` // Derived: retryCount < maxRetries
}

// PublishResult is returned by a publish provider
type PublishResult struct {
	ID       string         `json:"id"`
	URL      string         `json:"url,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
