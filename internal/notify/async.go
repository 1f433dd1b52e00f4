package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Async hands events to a background worker so the bid path never waits on
// a broker. Events are dropped, with a log line, when the queue is full or
// the worker has been closed.
type Async struct {
	next    Publisher
	queue   chan BidEvent
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex // guards closed and sends on queue
	closed bool
}

// NewAsync starts a worker publishing to next with a per-event timeout
func NewAsync(next Publisher, queueSize int, timeout time.Duration) *Async {
	a := &Async{
		next:    next,
		queue:   make(chan BidEvent, queueSize),
		timeout: timeout,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			log.Printf("Failed to publish bid event %s for item %d: %v", ev.EventID, ev.ItemID, err)
		}
		cancel()
	}
}

// Publish enqueues ev without blocking
func (a *Async) Publish(_ context.Context, ev BidEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		log.Printf("Bid event publisher closed, dropping event %s for item %d", ev.EventID, ev.ItemID)
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		log.Printf("Bid event queue full, dropping event %s for item %d", ev.EventID, ev.ItemID)
	}
	return nil
}

// Close drains queued events and stops the worker. Later publishes are
// dropped.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
