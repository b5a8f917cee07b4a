package models

import (
	"time"
)

// BatchState represents the derived state of a batch
type BatchState string

const (
	BatchStateQueued     BatchState = "queued"
	BatchStateProcessing BatchState = "processing"
	BatchStateCompleted  BatchState = "completed"
	BatchStateFailed     BatchState = "failed"
)

// Batch is the persistent metadata record for a group of jobs enqueued
// together. Status is never stored; it is derived from member jobs at read
// time.
type Batch struct {
	BatchID    string    `json:"batch_id" badgerhold:"key"`
	PluginID   string    `json:"plugin_id" badgerhold:"index"`
	CreatedAt  time.Time `json:"created_at"`
	JobIDs     []string  `json:"job_ids"`
	Operations []string  `json:"operations"` // Logical names parallel to JobIDs
}

// BatchStatus is the live aggregation over a batch's member jobs
type BatchStatus struct {
	BatchID             string     `json:"batch_id"`
	PluginID            string     `json:"plugin_id"`
	Status              BatchState `json:"status"`
	TotalOperations     int        `json:"total_operations"`
	CompletedOperations int        `json:"completed_operations"`
	FailedOperations    int        `json:"failed_operations"`
	CurrentOperation    string     `json:"current_operation,omitempty"` // First running operation
	Errors              []string   `json:"errors,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// IsTerminal returns true when no member job is pending or running
func (s *BatchStatus) IsTerminal() bool {
	return s.Status == BatchStateCompleted || s.Status == BatchStateFailed
}
