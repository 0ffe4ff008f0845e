package daemon

import (
	"sync"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// eventQueue is the pipeline's single FIFO input. Producers on any goroutine
// enqueue; only the pipeline dequeues.
//
// It is unbounded so that detector callbacks, HTTP handlers and timer
// callbacks never block on a busy pipeline.
type eventQueue struct {
	mu     sync.Mutex
	events []domain.Event
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wakeups
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]domain.Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends ev. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(ev domain.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, ev)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (domain.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	ev := q.events[0]
	q.events[0] = nil // release for GC
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return ev, true
}

// Wait returns a channel that fires when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
