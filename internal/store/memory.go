package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"callboard/internal/callevent"
)

// ErrUnavailable is what Memory returns when a failure toggle is set.
var ErrUnavailable = errors.New("store: unavailable")

// Memory is a simple in-memory store useful for tests and local
// development. It is not intended for production use. Call counters
// and failure toggles let tests observe initialization behavior.
type Memory struct {
	mu     sync.Mutex
	events []callevent.CallEvent
	nextID int64

	// Contacts backs the name join the way the contacts table does.
	Contacts map[string]string

	// ReportIDs=false simulates a backend that cannot return the
	// inserted id, forcing callers onto their local counter.
	ReportIDs bool

	SchemaCalls    atomic.Int64
	BootstrapCalls atomic.Int64

	FailSchema atomic.Bool
	FailInsert atomic.Bool
	FailQuery  atomic.Bool
}

func NewMemory() *Memory {
	return &Memory{Contacts: map[string]string{}, ReportIDs: true}
}

func (m *Memory) EnsureSchema(ctx context.Context) error {
	m.SchemaCalls.Add(1)
	if m.FailSchema.Load() {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) BootstrapHistory(ctx context.Context, limit int) ([]callevent.CallEvent, error) {
	m.BootstrapCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = ClampLimit(limit)
	out := make([]callevent.CallEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, ev callevent.CallEvent) (string, error) {
	if m.FailInsert.Load() {
		return "", ErrUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	if m.ReportIDs {
		ev.ID = strconv.FormatInt(m.nextID, 10)
	}
	m.events = append(m.events, ev)
	if m.ReportIDs {
		return ev.ID, nil
	}
	return "", nil
}

func (m *Memory) Query(ctx context.Context, search string, limit int) ([]callevent.CallEvent, error) {
	if m.FailQuery.Load() {
		return nil, ErrUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = ClampLimit(limit)
	needle := strings.ToLower(search)
	out := make([]callevent.CallEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := m.events[i]
		name := ev.CallerName
		if name == "" {
			name = m.Contacts[ev.Digits]
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(ev.Phone), needle) &&
			!strings.Contains(strings.ToLower(ev.Digits), needle) &&
			!strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		ev.CallerName = name
		out = append(out, ev)
	}
	return out, nil
}

// Events returns a copy of everything persisted, oldest-first.
func (m *Memory) Events() []callevent.CallEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]callevent.CallEvent, len(m.events))
	copy(out, m.events)
	return out
}
