package ingest

import (
	"sync"
	"time"

	"github.com/meridian-health/claims-platform/internal/claim"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
)

// BulkBatch carries one uploaded spreadsheet's worth of normalized claims
type BulkBatch struct {
	Claims     []*claim.Claim
	SourceFile string
	IngestedAt time.Time
}

// Event carries a single claim awaiting adjudication
type Event struct {
	Claim      *claim.Claim
	IngestedAt time.Time
}

// Queue is an unbounded FIFO queue with many producers and one logical
// consumer. Producers never block; a consumer blocks until an item arrives
// or the queue is closed. Durability lives in persistence, not here.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
	name   string
}

// NewQueue creates a named queue. The name labels queue-depth metrics.
func NewQueue[T any](name string) *Queue[T] {
	q := &Queue[T]{name: name}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds an item. Returns false if the queue is closed.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)
	metrics.RecordQueueDepth(q.name, len(q.items))
	q.cond.Signal()
	return true
}

// Dequeue removes the oldest item, blocking until one is available. The
// second return value is false once the queue is closed and drained.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	metrics.RecordQueueDepth(q.name, len(q.items))
	return item, true
}

// Len returns the number of items currently waiting
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new items and wakes blocked consumers. Items already
// queued remain dequeuable so consumers can drain before exiting.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
