// Package bus emits named one-way events, such as a request to open a client
// action. Nothing flows back to the emitter.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/relgraph/internal/ir"
)

// Handler receives a triggered event.
type Handler func(name string, payload ir.IRObject)

// Event is a triggered event as kept by Log.
type Event struct {
	Name    string
	Payload ir.IRObject
}

type subscription struct {
	id int
	fn Handler
}

// Bus dispatches events to subscribers. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]subscription
}

// New creates a bus with no subscribers.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers fn for events named name. The returned function
// removes the subscription; calling it twice is harmless.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[name]
		for i, s := range subs {
			if s.id == id {
				b.subs[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Trigger delivers an event to every subscriber of name, synchronously and
// in subscription order, on the caller's goroutine. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Trigger(name string, payload ir.IRObject) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs[name]...)
	b.mu.Unlock()

	if len(subs) == 0 {
		slog.Debug("bus event without subscribers", "event", name)
		return
	}
	for _, s := range subs {
		deliver(s.fn, name, payload)
	}
}

func deliver(fn Handler, name string, payload ir.IRObject) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus handler panicked",
				"event", name,
				"error", fmt.Sprint(r),
			)
		}
	}()
	fn(name, payload)
}

// Log records every event of the names it is attached to. Used by tests and
// the CLI to show what was emitted.
type Log struct {
	mu     sync.Mutex
	events []Event
}

// Attach subscribes the log to names on b.
func (l *Log) Attach(b *Bus, names ...string) {
	for _, name := range names {
		b.Subscribe(name, l.record)
	}
}

func (l *Log) record(name string, payload ir.IRObject) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Name: name, Payload: payload})
}

// Events returns the recorded events in trigger order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}
