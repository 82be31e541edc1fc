package ingest

import (
	"context"
	"log"
	"sync"
	"time"
)

// Worker owns the two queue consumption loops for the lifetime of the
// service. It starts after a fixed delay so the rest of the process can
// initialize, and exits on shutdown or queue closure. One bad item never
// stops a loop.
type Worker struct {
	bulkQueue *Queue[BulkBatch]
	adjQueue  *Queue[Event]

	bulk       *BulkProcessor
	dispatcher *Dispatcher

	startupDelay time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// NewWorker creates the background ingest worker
func NewWorker(
	bulkQueue *Queue[BulkBatch],
	adjQueue *Queue[Event],
	bulk *BulkProcessor,
	dispatcher *Dispatcher,
	startupDelay time.Duration,
) *Worker {
	return &Worker{
		bulkQueue:    bulkQueue,
		adjQueue:     adjQueue,
		bulk:         bulk,
		dispatcher:   dispatcher,
		startupDelay: startupDelay,
	}
}

// Start launches both consumption loops
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}
	w.started = true

	w.wg.Add(2)
	go w.runBulkLoop(ctx)
	go w.runDispatchLoop(ctx)

	return nil
}

// Stop closes the queues and waits for the loops to drain and exit
func (w *Worker) Stop() {
	w.bulkQueue.Close()
	w.adjQueue.Close()
	w.wg.Wait()
}

func (w *Worker) runBulkLoop(ctx context.Context) {
	defer w.wg.Done()

	if !w.sleepStartup(ctx) {
		return
	}
	log.Printf("ingest: bulk consumer started")

	for {
		batch, ok := w.bulkQueue.Dequeue()
		if !ok {
			log.Printf("ingest: bulk consumer stopped")
			return
		}
		w.bulk.ProcessBatch(ctx, batch)
	}
}

func (w *Worker) runDispatchLoop(ctx context.Context) {
	defer w.wg.Done()

	if !w.sleepStartup(ctx) {
		return
	}
	log.Printf("ingest: dispatch consumer started")

	for {
		evt, ok := w.adjQueue.Dequeue()
		if !ok {
			log.Printf("ingest: dispatch consumer stopped")
			return
		}
		if err := w.dispatcher.Dispatch(ctx, evt); err != nil {
			log.Printf("ingest: dispatch failed for claim %s: %v", evt.Claim.ClaimLineKey, err)
		}
	}
}

// sleepStartup waits out the startup delay, returning false on shutdown
func (w *Worker) sleepStartup(ctx context.Context) bool {
	if w.startupDelay <= 0 {
		return true
	}
	select {
	case <-time.After(w.startupDelay):
		return true
	case <-ctx.Done():
		return false
	}
}
