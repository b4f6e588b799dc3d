// Package pbx is the ingestion core: it normalizes webhook payloads,
// persists them, maintains the recent-history ring, and hands each new
// event to the broadcaster.
package pbx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"callboard/internal/callevent"
	"callboard/internal/history"
	"callboard/internal/metrics"
)

// ErrNoPhone marks a webhook whose payload carries no usable phone
// value. It is the only client-fault error the ingest path produces.
var ErrNoPhone = errors.New("phone missing")

// Store is the durable persistence contract the service depends on.
// Implementations clamp query limits and report errors that callers
// treat as server faults.
type Store interface {
	EnsureSchema(ctx context.Context) error
	BootstrapHistory(ctx context.Context, limit int) ([]callevent.CallEvent, error)
	// Insert persists one event and returns the store-assigned id, or
	// "" when the backend cannot report one.
	Insert(ctx context.Context, ev callevent.CallEvent) (string, error)
	Query(ctx context.Context, search string, limit int) ([]callevent.CallEvent, error)
}

// Broadcaster pushes a persisted event to all live subscribers.
type Broadcaster interface {
	Broadcast(ev callevent.CallEvent)
}

// IncomingCall is the extracted webhook payload before normalization.
type IncomingCall struct {
	Phone      string
	Extension  string
	Source     string
	Status     string
	Note       string
	CallerName string
	PersonID   string
	ReceivedAt time.Time
}

// Service owns the per-process pipeline state: the history ring, the
// event id counter, and the one-time store initialization. Construct
// one per process (or per test); there is no package-level state.
type Service struct {
	store  Store
	ring   *history.Ring
	broker Broadcaster
	log    *slog.Logger
	clock  func() time.Time

	init  singleflight.Group
	ready atomic.Bool
	seq   atomic.Int64
}

func NewService(store Store, ring *history.Ring, broker Broadcaster, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		ring:   ring,
		broker: broker,
		log:    log,
		clock:  time.Now,
	}
}

// Ready runs the one-time schema creation and history bootstrap.
// Concurrent callers share a single in-flight execution; a failed
// attempt is not memoized, so a later request retries from scratch.
func (s *Service) Ready(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	_, err, _ := s.init.Do("init", func() (any, error) {
		if s.ready.Load() {
			return nil, nil
		}
		if err := s.store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		events, err := s.store.BootstrapHistory(ctx, s.ring.Capacity())
		if err != nil {
			return nil, err
		}
		s.ring.Seed(events)
		// Bootstrap order follows received_at, and a backdated event
		// can put a lower id at the head, so every row feeds the
		// counter: a synthesized id must never collide with any
		// persisted one.
		for _, ev := range events {
			s.advanceSeq(ev.ID)
		}
		s.ready.Store(true)
		s.log.Info("store initialized", "history", len(events))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return nil
}

// Ingest runs the full pipeline for one webhook payload. The event
// becomes visible to history, stream, and query consumers only after a
// successful persist; a store failure leaves no partial state behind.
func (s *Service) Ingest(ctx context.Context, in IncomingCall) (callevent.CallEvent, error) {
	if err := s.Ready(ctx); err != nil {
		return callevent.CallEvent{}, err
	}

	display, digits := callevent.SanitizePhone(in.Phone)
	if display == "" && digits == "" {
		return callevent.CallEvent{}, ErrNoPhone
	}

	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.clock().UTC()
	}

	ev := callevent.CallEvent{
		Phone:      display,
		Digits:     digits,
		Extension:  strings.TrimSpace(in.Extension),
		Source:     strings.TrimSpace(in.Source),
		Status:     callevent.NormalizeStatus(in.Status),
		Note:       strings.TrimSpace(in.Note),
		CallerName: strings.TrimSpace(in.CallerName),
		PersonID:   strings.TrimSpace(in.PersonID),
		ReceivedAt: receivedAt,
	}

	start := s.clock()
	id, err := s.store.Insert(ctx, ev)
	if err != nil {
		return callevent.CallEvent{}, err
	}
	metrics.InsertDuration.Observe(float64(time.Since(start).Milliseconds()))

	if id == "" {
		id = strconv.FormatInt(s.seq.Add(1), 10)
	} else {
		s.advanceSeq(id)
	}
	ev.ID = id

	s.ring.Push(ev)
	s.broker.Broadcast(ev)
	metrics.CallsIngested.WithLabelValues(string(ev.Status)).Inc()
	return ev, nil
}

// Log serves the paginated, searchable view over persisted history.
// It reads the store, never the ring, so results reach past the
// in-memory cap.
func (s *Service) Log(ctx context.Context, search string, limit int) ([]callevent.CallEvent, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	return s.store.Query(ctx, strings.TrimSpace(search), limit)
}

// LastKnown peeks at the most recent event, if any.
func (s *Service) LastKnown(ctx context.Context) (callevent.CallEvent, bool, error) {
	if err := s.Ready(ctx); err != nil {
		return callevent.CallEvent{}, false, err
	}
	ev, ok := s.ring.MostRecent()
	return ev, ok, nil
}

// advanceSeq lifts the synthesized-id counter to at least id, so a
// later fallback id never collides with a persisted one.
func (s *Service) advanceSeq(id string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}
	for {
		cur := s.seq.Load()
		if cur >= n || s.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}
