package orchestrator

import (
	"sync"

	"github.com/roach88/packdelivery/internal/platform"
)

// eventType distinguishes inbox event kinds.
type eventType int

const (
	// eventStatus is a status report from the platform.
	eventStatus eventType = iota + 1
	// eventPermission is the answer to a network permission request.
	eventPermission
	// eventMissing reports a recorded local path that no longer exists.
	eventMissing
)

// event is one inbox entry.
type event struct {
	typ     eventType
	status  platform.StatusEvent
	granted bool
	err     error
	unit    string
}

// eventQueue is a thread-safe unbounded FIFO of inbox events.
//
// Platform sinks enqueue from arbitrary goroutines; only the dispatch
// cycle dequeues. The signal channel lets a waiter select on availability
// together with its context.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds e to the back of the queue. Returns false once closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]
	// Clear the slot so its error value can be collected.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available. It is
// closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes all waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
