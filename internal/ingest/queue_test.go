package ingest

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]("test")
	for i := 0; i < 5; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	for i := 0; i < 5; i++ {
		item, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d failed", i)
		}
		if item != i {
			t.Errorf("dequeue %d = %d, out of order", i, item)
		}
	}
}

func TestQueueProducersNeverBlock(t *testing.T) {
	q := NewQueue[int]("test")

	// No consumer exists; every enqueue must still return promptly
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Enqueue(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked without a consumer")
	}

	if q.Len() != 10000 {
		t.Errorf("queue length = %d, want 10000", q.Len())
	}
}

func TestQueueBlockingDequeue(t *testing.T) {
	q := NewQueue[string]("test")

	result := make(chan string, 1)
	go func() {
		item, ok := q.Dequeue()
		if !ok {
			result <- ""
			return
		}
		result <- item
	}()

	// Give the consumer time to block before producing
	time.Sleep(20 * time.Millisecond)
	q.Enqueue("wake")

	select {
	case item := <-result:
		if item != "wake" {
			t.Errorf("dequeued %q, want wake", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never woke up")
	}
}

func TestQueueCloseWakesConsumer(t *testing.T) {
	q := NewQueue[int]("test")

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("dequeue on a closed empty queue should report closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not wake the consumer")
	}
}

func TestQueueDrainAfterClose(t *testing.T) {
	q := NewQueue[int]("test")
	q.Enqueue(1)
	q.Enqueue(2)
	q.Close()

	if q.Enqueue(3) {
		t.Error("enqueue after close should fail")
	}

	// Items queued before close remain dequeuable
	for want := 1; want <= 2; want++ {
		item, ok := q.Dequeue()
		if !ok || item != want {
			t.Errorf("drain got (%d, %v), want (%d, true)", item, ok, want)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("drained closed queue should report closed")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue[int]("test")

	const producers = 20
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()

	seen := 0
	for q.Len() > 0 {
		if _, ok := q.Dequeue(); ok {
			seen++
		}
	}
	if seen != producers*perProducer {
		t.Errorf("dequeued %d items, want %d", seen, producers*perProducer)
	}
}
