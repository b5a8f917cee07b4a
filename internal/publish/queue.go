package publish

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/models"
)

// QueueManager holds the per-entity-type publish queues. Each queue is an
// ordered list with 1-based positions; positions are recomputed after every
// mutation so they stay dense.
type QueueManager struct {
	logger arbor.ILogger

	mu     sync.RWMutex
	queues map[string][]*models.QueueEntry

	now func() time.Time
}

// NewQueueManager creates an empty queue manager
func NewQueueManager(logger arbor.ILogger) *QueueManager {
	return &QueueManager{
		logger: logger,
		queues: make(map[string][]*models.QueueEntry),
		now:    time.Now,
	}
}

// Add appends an entity to its type's queue. Adding an entity already queued
// is a no-op returning the existing entry.
func (q *QueueManager) Add(entityType, entityID string) (*models.QueueEntry, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("entity type and id are required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range q.queues[entityType] {
		if entry.EntityID == entityID {
			return entry, nil
		}
	}

	entry := &models.QueueEntry{
		EntityType: entityType,
		EntityID:   entityID,
		QueuedAt:   q.now(),
	}
	q.queues[entityType] = append(q.queues[entityType], entry)
	q.renumber(entityType)

	q.logger.Debug().
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Int("position", entry.Position).
		Msg("Entity queued for publish")

	return entry, nil
}

// Remove takes an entity out of its queue. Returns false if it was not
// queued.
func (q *QueueManager) Remove(entityType, entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[entityType]
	for i, entry := range queue {
		if entry.EntityID == entityID {
			q.queues[entityType] = append(queue[:i], queue[i+1:]...)
			q.renumber(entityType)
			return true
		}
	}
	return false
}

// Reorder moves an entity to a 1-based position, clamped to the queue
// bounds. Reordering an entity that is not queued is a no-op returning
// false.
func (q *QueueManager) Reorder(entityType, entityID string, position int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[entityType]
	from := -1
	for i, entry := range queue {
		if entry.EntityID == entityID {
			from = i
			break
		}
	}
	if from == -1 {
		return false
	}

	if position < 1 {
		position = 1
	}
	if position > len(queue) {
		position = len(queue)
	}
	to := position - 1

	entry := queue[from]
	queue = append(queue[:from], queue[from+1:]...)
	queue = append(queue[:to], append([]*models.QueueEntry{entry}, queue[to:]...)...)
	q.queues[entityType] = queue
	q.renumber(entityType)

	return true
}

// List returns a snapshot of a type's queue in order
func (q *QueueManager) List(entityType string) []*models.QueueEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queue := q.queues[entityType]
	out := make([]*models.QueueEntry, len(queue))
	for i, entry := range queue {
		clone := *entry
		out[i] = &clone
	}
	return out
}

// Next returns the head of a type's queue without removing it
func (q *QueueManager) Next(entityType string) *models.QueueEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queue := q.queues[entityType]
	if len(queue) == 0 {
		return nil
	}
	clone := *queue[0]
	return &clone
}

// PopNext removes and returns the head of a type's queue, or nil when empty
func (q *QueueManager) PopNext(entityType string) *models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[entityType]
	if len(queue) == 0 {
		return nil
	}
	entry := queue[0]
	q.queues[entityType] = queue[1:]
	q.renumber(entityType)
	return entry
}

// NextAcrossTypes returns the oldest queued entry among the given types
// without removing it, ties broken by entity type then entity id. Returns
// nil when all of the queues are empty.
func (q *QueueManager) NextAcrossTypes(entityTypes []string) *models.QueueEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	best := q.oldestHead(entityTypes)
	if best == nil {
		return nil
	}
	clone := *best
	return &clone
}

// PopNextAcrossTypes removes and returns the oldest queued entry among the
// given types, ties broken by entity type then entity id. Returns nil when
// all of the queues are empty.
func (q *QueueManager) PopNextAcrossTypes(entityTypes []string) *models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := q.oldestHead(entityTypes)
	if best == nil {
		return nil
	}

	queue := q.queues[best.EntityType]
	q.queues[best.EntityType] = queue[1:]
	q.renumber(best.EntityType)
	return best
}

// oldestHead selects the oldest queue head among the given types. Caller
// holds q.mu.
func (q *QueueManager) oldestHead(entityTypes []string) *models.QueueEntry {
	var best *models.QueueEntry
	for _, entityType := range entityTypes {
		queue := q.queues[entityType]
		if len(queue) == 0 {
			continue
		}
		head := queue[0]
		if best == nil || olderThan(head, best) {
			best = head
		}
	}
	return best
}

// RegisteredTypes returns every entity type that has ever held a queue
// entry, sorted. Types stay registered after their queue drains.
func (q *QueueManager) RegisteredTypes() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	types := make([]string, 0, len(q.queues))
	for entityType := range q.queues {
		types = append(types, entityType)
	}
	sort.Strings(types)
	return types
}

// QueuedTypes returns the entity types with at least one queued entry,
// sorted for deterministic iteration
func (q *QueueManager) QueuedTypes() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	types := make([]string, 0, len(q.queues))
	for entityType, queue := range q.queues {
		if len(queue) > 0 {
			types = append(types, entityType)
		}
	}
	sort.Strings(types)
	return types
}

// Len returns the number of queued entries for a type
func (q *QueueManager) Len(entityType string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues[entityType])
}

// renumber rewrites dense 1-based positions. Drained queues keep their map
// entry so the type stays registered. Caller holds q.mu.
func (q *QueueManager) renumber(entityType string) {
	for i, entry := range q.queues[entityType] {
		entry.Position = i + 1
	}
}

func olderThan(a, b *models.QueueEntry) bool {
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	if a.EntityType != b.EntityType {
		return a.EntityType < b.EntityType
	}
	return a.EntityID < b.EntityID
}
