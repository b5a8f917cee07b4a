package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a persistent job record.
//
// Status transitions: pending -> running -> (completed | failed). A failed
// job with retry budget remaining re-enters pending with ScheduledFor shifted
// by backoff.
type Job struct {
	ID   string `json:"id" badgerhold:"key"`
	Type string `json:"type" badgerhold:"index"` // Namespaced "<pluginID>:<jobKind>"

	// Opaque payload, validated by the handler before processing
	Data json.RawMessage `json:"data,omitempty"`

	Status   JobStatus `json:"status" badgerhold:"index"`
	Priority int       `json:"priority"` // Higher runs first among ready jobs

	ScheduledFor time.Time  `json:"scheduled_for"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`

	// Metadata carries enqueuer context (interface_id, user_id,
	// operation_type, batch_id, ...)
	Metadata map[string]string `json:"metadata,omitempty"`
	Source   string            `json:"source,omitempty"` // Identifies the enqueuer

	ProgressCurrent int        `json:"progress_current"`
	ProgressTotal   int        `json:"progress_total"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
}

// MetadataKeyBatchID marks a job as a member of a batch
const MetadataKeyBatchID = "batch_id"

// Validate validates the job record
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	return nil
}

// BatchID returns the batch id from metadata, or empty string
func (j *Job) BatchID() string {
	if j.Metadata == nil {
		return ""
	}
	return j.Metadata[MetadataKeyBatchID]
}

// IsDue returns true if the job is pending and scheduled at or before now
func (j *Job) IsDue(now time.Time) bool {
	return j.Status == JobStatusPending && !j.ScheduledFor.After(now)
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// WillRetry returns true if another attempt remains after a failure
func (j *Job) WillRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// MarkStarted marks the job as running
func (j *Job) MarkStarted(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// MarkCompleted marks the job as completed with a result
func (j *Job) MarkCompleted(now time.Time, result json.RawMessage) {
	j.Status = JobStatusCompleted
	j.Result = result
	j.CompletedAt = &now
}

// MarkFailed marks the job as terminally failed
func (j *Job) MarkFailed(now time.Time, errorMsg string) {
	j.Status = JobStatusFailed
	j.LastError = errorMsg
	j.CompletedAt = &now
}

// MarkRetrying returns the job to pending with a backoff delay
func (j *Job) MarkRetrying(now time.Time, errorMsg string, backoff time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	j.LastError = errorMsg
	j.ScheduledFor = now.Add(backoff)
	j.StartedAt = nil
}

// UpdateHeartbeat updates the last heartbeat timestamp
func (j *Job) UpdateHeartbeat(now time.Time) {
	j.LastHeartbeat = &now
}

// JobStats holds counts of jobs by status
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total returns the total number of jobs across all statuses
func (s JobStats) Total() int {
	return s.Pending + s.Running + s.Completed + s.Failed
}
