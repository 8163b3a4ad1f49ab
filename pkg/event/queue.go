package event

import (
	"sync"

	"github.com/go-drift/videoplayer/pkg/errors"
)

// Sink receives delivered events. Send is called with the queue lock held
// and must not call back into the queue.
type Sink interface {
	Send(e Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(e Event) error

// Send calls f(e).
func (f SinkFunc) Send(e Event) error { return f(e) }

// Queue holds events until a single observer is attached and then delivers
// them in emission order.
//
// Attaching flushes everything pending under the same lock Emit takes, so an
// event emitted concurrently with Attach is delivered after the backlog, never
// before it. If a sink fails, it is detached and the failed event stays at the
// head of the queue for the next observer.
type Queue struct {
	channel string

	mu      sync.Mutex
	sink    Sink
	gen     uint64
	pending []Event
}

// NewQueue creates an empty queue. The channel name is used in error reports.
func NewQueue(channel string) *Queue {
	return &Queue{channel: channel}
}

// Registration identifies one Attach call.
type Registration struct {
	q   *Queue
	gen uint64
}

// Cancel detaches the observer if it is still the one this registration
// attached. Cancelling a replaced registration does nothing.
func (r *Registration) Cancel() {
	if r == nil || r.q == nil {
		return
	}
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	if r.q.gen == r.gen && r.q.sink != nil {
		r.q.sink = nil
		r.q.gen++
	}
}

// Emit delivers e to the attached observer, or queues it when there is none.
func (q *Queue) Emit(e Event) {
	if e == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, e)
	q.flushLocked()
}

// Attach replaces the current observer with s and flushes pending events to it.
func (q *Queue) Attach(s Sink) *Registration {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	q.sink = s
	reg := &Registration{q: q, gen: q.gen}
	q.flushLocked()
	return reg
}

// Detach removes the current observer. Later events are queued.
func (q *Queue) Detach() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sink != nil {
		q.sink = nil
		q.gen++
	}
}

// Attached reports whether an observer is currently attached.
func (q *Queue) Attached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sink != nil
}

// Pending returns the number of undelivered events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) flushLocked() {
	for q.sink != nil && len(q.pending) > 0 {
		if err := q.sink.Send(q.pending[0]); err != nil {
			q.sink = nil
			q.gen++
			errors.Report(&errors.PlayerError{
				Op:      "event.Queue.flush",
				Kind:    errors.KindPlatform,
				Channel: q.channel,
				Err:     err,
			})
			return
		}
		q.pending[0] = nil
		q.pending = q.pending[1:]
	}
	if len(q.pending) == 0 {
		q.pending = nil
	}
}
