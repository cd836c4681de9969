package engine

import (
	"sync"

	"github.com/roach88/relgraph/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypePush carries a server payload for a registered PushHandler.
	EventTypePush EventType = iota + 1
	// EventTypeCompletion carries the outcome of a remote call task.
	EventTypeCompletion
	// EventTypeFunc runs a function inside a batch on the loop goroutine.
	EventTypeFunc
)

func (t EventType) String() string {
	switch t {
	case EventTypePush:
		return "push"
	case EventTypeCompletion:
		return "completion"
	case EventTypeFunc:
		return "func"
	}
	return "unknown"
}

// Event is one unit of work for the single-writer loop.
type Event struct {
	Type       EventType
	Push       *Push
	Completion *Completion
	Func       func(*Engine) error
}

// Push is a record delivered by the server, e.g. a bus notification with a
// message in message_format.
type Push struct {
	Model   string
	Payload ir.IRObject
}

// Completion is the outcome of a remote call, posted by the task goroutine.
type Completion struct {
	task   *Task
	Result ir.IRValue
	Err    error
}

// eventQueue is the loop's unbounded FIFO. Task goroutines and bus
// subscribers enqueue from any goroutine and never block; the loop drains
// it from one goroutine.
//
// signal has a buffer of one, so any number of enqueues between two loop
// wake-ups coalesce into a single wake-up. Close closes signal, which
// wakes the loop for good.
type eventQueue struct {
	mu     sync.Mutex
	buf    []Event
	head   int
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		buf:    make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. It returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.buf = append(q.buf, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.buf) {
		return Event{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head++

	switch {
	case q.head == len(q.buf):
		q.buf, q.head = q.buf[:0], 0
	case q.head >= cap(q.buf)/2:
		// Slide the live tail down once half the array is spent.
		n := copy(q.buf, q.buf[q.head:])
		clear(q.buf[n:])
		q.buf, q.head = q.buf[:n], 0
	}
	return e, true
}

// Wait returns the wake-up channel for use in a select alongside
// ctx.Done(). A receive means "try TryDequeue", not "an event is there".
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.head
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further events and wakes the loop. Events already queued
// can still be dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
}
