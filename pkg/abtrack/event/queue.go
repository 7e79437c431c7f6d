package event

import (
	"slices"
	"sync"

	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"github.com/randalmurphal/abtrack/pkg/abtrack/store"
)

// Queue is the ordered buffer of undelivered events, mirrored to a store.
//
// Every mutation rewrites the whole store.KeyEvents value while the lock is
// held, so the store never observes an order different from memory. A failed
// write keeps the in-memory mutation and is returned as a persistence error.
type Queue struct {
	store store.Store

	mu     sync.Mutex
	events []Event
	// gen increments on Purge so a drain pass started before it
	// does not resurrect purged events.
	gen uint64
}

// NewQueue loads the queue from s.
//
// A missing key yields an empty queue. A corrupt or unreadable key also
// yields an empty queue together with a persistence error; the queue is usable.
func NewQueue(s store.Store) (*Queue, error) {
	q := &Queue{store: s}

	var loaded []Event
	ok, err := store.LoadJSON(s, store.KeyEvents, &loaded)
	if err != nil {
		return q, aberrors.Persistence(err, "load", store.KeyEvents)
	}
	if ok {
		q.events = loaded
	}
	return q, nil
}

// Append adds evt to the tail and persists the queue.
// Returns the new length.
func (q *Queue) Append(evt Event) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, evt)
	return len(q.events), q.persistLocked()
}

// Snapshot returns a copy of the queued events in order.
func (q *Queue) Snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.events)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Purge drops every queued event and persists the empty queue.
func (q *Queue) Purge() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = nil
	q.gen++
	return q.persistLocked()
}

// begin captures the events a drain pass will attempt.
func (q *Queue) begin() ([]Event, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.events), q.gen
}

// settle replaces the first n events with failed, keeping events appended
// after begin, and persists the result even if unchanged.
func (q *Queue) settle(n int, failed []Event, gen uint64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.gen {
		// Purged mid-pass; only events appended since then survive.
		return len(q.events), q.persistLocked()
	}

	n = min(n, len(q.events))
	remaining := make([]Event, 0, len(failed)+len(q.events)-n)
	remaining = append(remaining, failed...)
	remaining = append(remaining, q.events[n:]...)
	q.events = remaining
	return len(q.events), q.persistLocked()
}

func (q *Queue) persistLocked() error {
	events := q.events
	if events == nil {
		events = []Event{}
	}
	if err := store.SaveJSON(q.store, store.KeyEvents, events); err != nil {
		return aberrors.Persistence(err, "persist", store.KeyEvents)
	}
	return nil
}
