// Package history keeps the bounded in-memory cache of the most recent
// call events. It is rebuilt from the durable store on every process
// start and is never persisted itself.
package history

import (
	"sync"

	"callboard/internal/callevent"
)

// DefaultCapacity bounds the ring when the caller does not choose one.
const DefaultCapacity = 500

// Ring is a fixed-capacity, newest-first sequence of call events.
// Pushing at capacity evicts the oldest entry. Safe for concurrent use.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	events   []callevent.CallEvent
}

func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity: capacity,
		events:   make([]callevent.CallEvent, 0, capacity),
	}
}

func (r *Ring) Capacity() int { return r.capacity }

// Push inserts ev at the front, evicting the tail entry when full.
func (r *Ring) Push(ev callevent.CallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == r.capacity {
		r.events = r.events[:r.capacity-1]
	}
	r.events = append([]callevent.CallEvent{ev}, r.events...)
}

// Seed replaces the ring contents with events, expected newest-first,
// truncated to capacity. Used once at bootstrap.
func (r *Ring) Seed(events []callevent.CallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(events) > r.capacity {
		events = events[:r.capacity]
	}
	r.events = make([]callevent.CallEvent, len(events), r.capacity)
	copy(r.events, events)
}

// Snapshot returns a copy of the current contents, newest-first.
func (r *Ring) Snapshot() []callevent.CallEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]callevent.CallEvent, len(r.events))
	copy(out, r.events)
	return out
}

// MostRecent peeks at the newest entry.
func (r *Ring) MostRecent() (callevent.CallEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.events) == 0 {
		return callevent.CallEvent{}, false
	}
	return r.events[0], true
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
