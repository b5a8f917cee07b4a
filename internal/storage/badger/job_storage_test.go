package badger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/common"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "memoro-test"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestJobStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()
	return NewJobStorage(newTestDB(t), arbor.NewLogger())
}

func pendingJob(id string, priority int, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:           id,
		Type:         "p:task",
		Status:       models.JobStatusPending,
		Priority:     priority,
		ScheduledFor: createdAt,
		CreatedAt:    createdAt,
		MaxRetries:   3,
	}
}

func TestJobStorage_SaveAndGet(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	job := pendingJob("job_1", 0, time.Now())
	job.Metadata = map[string]string{"batch_id": "batch_1"}
	job.Data = []byte(`{"url":"x"}`)

	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := storage.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Type != "p:task" {
		t.Errorf("Type not persisted, got %s", got.Type)
	}
	if got.Metadata["batch_id"] != "batch_1" {
		t.Error("Metadata not persisted")
	}
	if string(got.Data) != `{"url":"x"}` {
		t.Errorf("Data not persisted, got %s", got.Data)
	}
}

func TestJobStorage_GetMissingJob(t *testing.T) {
	storage := newTestJobStorage(t)

	_, err := storage.GetJob(context.Background(), "job_missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStorage_GetJobsSkipsMissing(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	now := time.Now()

	storage.SaveJob(ctx, pendingJob("job_1", 0, now))
	storage.SaveJob(ctx, pendingJob("job_2", 0, now))

	jobs, err := storage.GetJobs(ctx, []string{"job_1", "job_missing", "job_2"})
	if err != nil {
		t.Fatalf("GetJobs failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job_1" || jobs[1].ID != "job_2" {
		t.Errorf("Expected found jobs in id order, got %+v", jobs)
	}
}

func TestJobStorage_SaveRejectsInvalidJob(t *testing.T) {
	storage := newTestJobStorage(t)

	if err := storage.SaveJob(context.Background(), &models.Job{ID: "job_1"}); err == nil {
		t.Error("Expected validation error for job without type")
	}
}

func TestJobStorage_UpsertOverwrites(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	job := pendingJob("job_1", 0, time.Now())
	storage.SaveJob(ctx, job)

	job.Status = models.JobStatusCompleted
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Second SaveJob failed: %v", err)
	}

	got, _ := storage.GetJob(ctx, "job_1")
	if got.Status != models.JobStatusCompleted {
		t.Errorf("Expected updated status, got %s", got.Status)
	}
}

func TestJobStorage_NextDueJobOrdering(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	now := time.Now()

	storage.SaveJob(ctx, pendingJob("job_low_old", 1, now.Add(-2*time.Minute)))
	storage.SaveJob(ctx, pendingJob("job_low_new", 1, now.Add(-time.Minute)))
	storage.SaveJob(ctx, pendingJob("job_high", 9, now.Add(-time.Second)))

	// Future job is never due
	future := pendingJob("job_future", 99, now)
	future.ScheduledFor = now.Add(time.Hour)
	storage.SaveJob(ctx, future)

	job, err := storage.NextDueJob(ctx, now)
	if err != nil {
		t.Fatalf("NextDueJob failed: %v", err)
	}
	if job == nil || job.ID != "job_high" {
		t.Fatalf("Expected highest priority job, got %+v", job)
	}

	// Equal priority: oldest createdAt wins
	job.MarkStarted(now)
	storage.SaveJob(ctx, job)

	job, _ = storage.NextDueJob(ctx, now)
	if job == nil || job.ID != "job_low_old" {
		t.Fatalf("Expected oldest of equal priority, got %+v", job)
	}
}

func TestJobStorage_NextDueJobEmpty(t *testing.T) {
	storage := newTestJobStorage(t)

	job, err := storage.NextDueJob(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("NextDueJob failed: %v", err)
	}
	if job != nil {
		t.Errorf("Expected nil on empty store, got %+v", job)
	}
}

func TestJobStorage_CountByStatus(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	now := time.Now()

	storage.SaveJob(ctx, pendingJob("job_1", 0, now))
	storage.SaveJob(ctx, pendingJob("job_2", 0, now))

	running := pendingJob("job_3", 0, now)
	running.MarkStarted(now)
	storage.SaveJob(ctx, running)

	failed := pendingJob("job_4", 0, now)
	failed.MarkFailed(now, "boom")
	storage.SaveJob(ctx, failed)

	stats, err := storage.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if stats.Pending != 2 || stats.Running != 1 || stats.Failed != 1 || stats.Completed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestJobStorage_ActiveJobsByType(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	now := time.Now()

	storage.SaveJob(ctx, pendingJob("job_1", 0, now))

	other := pendingJob("job_2", 0, now)
	other.Type = "q:other"
	storage.SaveJob(ctx, other)

	done := pendingJob("job_3", 0, now)
	done.MarkCompleted(now, nil)
	storage.SaveJob(ctx, done)

	active, err := storage.ActiveJobsByType(ctx, "p:task")
	if err != nil {
		t.Fatalf("ActiveJobsByType failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "job_1" {
		t.Errorf("Expected only the pending p:task job, got %+v", active)
	}
}

func TestJobStorage_ResetRunningJobs(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	now := time.Now()

	orphan := pendingJob("job_orphan", 0, now)
	orphan.MarkStarted(now)
	orphan.UpdateHeartbeat(now)
	storage.SaveJob(ctx, orphan)

	storage.SaveJob(ctx, pendingJob("job_pending", 0, now))

	reset, err := storage.ResetRunningJobs(ctx)
	if err != nil {
		t.Fatalf("ResetRunningJobs failed: %v", err)
	}
	if reset != 1 {
		t.Errorf("Expected 1 reset, got %d", reset)
	}

	got, _ := storage.GetJob(ctx, "job_orphan")
	if got.Status != models.JobStatusPending {
		t.Errorf("Expected pending after reset, got %s", got.Status)
	}
	if got.StartedAt != nil || got.LastHeartbeat != nil {
		t.Error("Run markers should be cleared on reset")
	}
}

func TestJobStorage_StaleJobs(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	now := time.Now()

	stale := pendingJob("job_stale", 0, now)
	started := now.Add(-time.Hour)
	stale.MarkStarted(started)
	storage.SaveJob(ctx, stale)

	fresh := pendingJob("job_fresh", 0, now)
	fresh.MarkStarted(now.Add(-time.Hour))
	fresh.UpdateHeartbeat(now)
	storage.SaveJob(ctx, fresh)

	jobs, err := storage.StaleJobs(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("StaleJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job_stale" {
		t.Errorf("Expected only the silent job, got %+v", jobs)
	}
}

func TestBatchStorage_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewBatchStorage(db, arbor.NewLogger())
	ctx := context.Background()

	batch := &models.Batch{
		BatchID:    "batch_1",
		PluginID:   "docs",
		CreatedAt:  time.Now(),
		JobIDs:     []string{"job_1", "job_2"},
		Operations: []string{"fetch", "store"},
	}
	if err := storage.SaveBatch(ctx, batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	got, err := storage.GetBatch(ctx, "batch_1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got == nil || len(got.JobIDs) != 2 || got.Operations[1] != "store" {
		t.Errorf("Batch not persisted correctly: %+v", got)
	}

	missing, err := storage.GetBatch(ctx, "batch_missing")
	if err != nil {
		t.Fatalf("GetBatch for missing id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown batch, got %+v", missing)
	}
}

func TestBatchStorage_ListNewestFirst(t *testing.T) {
	db := newTestDB(t)
	storage := NewBatchStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()
	storage.SaveBatch(ctx, &models.Batch{BatchID: "batch_old", PluginID: "p", CreatedAt: now.Add(-time.Hour)})
	storage.SaveBatch(ctx, &models.Batch{BatchID: "batch_new", PluginID: "p", CreatedAt: now})

	batches, err := storage.ListBatches(ctx)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(batches) != 2 || batches[0].BatchID != "batch_new" {
		t.Errorf("Expected newest first, got %+v", batches)
	}
}
