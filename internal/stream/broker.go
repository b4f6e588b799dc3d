// Package stream owns the live-subscriber registry and the broadcast
// fan-out path. Each subscriber gets its own buffered frame queue fed
// by Broadcast, so one slow connection never stalls ingestion or the
// other subscribers.
package stream

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/sse"

	"callboard/internal/callevent"
	"callboard/internal/history"
	"callboard/internal/metrics"
)

const (
	// DefaultHeartbeat matches the idle-timeout windows of common
	// reverse proxies; a comment frame every 25s keeps them open.
	DefaultHeartbeat = 25 * time.Second

	// DefaultRetryMS is the reconnect hint sent on connect.
	DefaultRetryMS = 10000

	// queueSize bounds the per-subscriber frame backlog. Frames beyond
	// it are dropped for that subscriber only (best-effort delivery).
	queueSize = 32

	eventName = "call"
)

// Sink is one subscriber's write side. Implementations must tolerate
// being written from a single goroutine at a time; the broker never
// writes one sink concurrently.
type Sink interface {
	// Send writes one encoded event frame.
	Send(ev sse.Event) error
	// KeepAlive writes an inert comment frame.
	KeepAlive() error
	// SendRetry writes the reconnect-interval hint.
	SendRetry(ms int) error
}

// Subscriber is one open streaming connection.
type Subscriber struct {
	broker *Broker
	sink   Sink
	ch     chan sse.Event
	done   chan struct{}
	once   sync.Once
}

// Done is closed when the subscriber has been unregistered.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Broker tracks connected subscribers and pushes each new call event
// to all of them.
type Broker struct {
	ring      *history.Ring
	heartbeat time.Duration
	retryMS   int
	log       *slog.Logger

	frameID atomic.Uint64

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewBroker(ring *history.Ring, log *slog.Logger) *Broker {
	return &Broker{
		ring:      ring,
		heartbeat: DefaultHeartbeat,
		retryMS:   DefaultRetryMS,
		log:       log,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// SetHeartbeat overrides the keep-alive interval. Tests use this to
// avoid waiting 25 seconds.
func (b *Broker) SetHeartbeat(d time.Duration) {
	if d > 0 {
		b.heartbeat = d
	}
}

// Register creates a subscriber for sink, tracks it, and starts its
// delivery loop. The snapshot read and the registry insert share one
// critical section, so an event broadcast while the connection is being
// set up is either the snapshot itself or already queued for delivery.
// The retry hint and the snapshot are written before the loop starts; a
// failure there means the connection is already dead and the subscriber
// is unregistered again.
func (b *Broker) Register(sink Sink) (*Subscriber, error) {
	sub := &Subscriber{
		broker: b,
		sink:   sink,
		ch:     make(chan sse.Event, queueSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	last, ok := b.ring.MostRecent()
	b.subs[sub] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.ActiveSubscribers.Set(float64(n))

	if err := sink.SendRetry(b.retryMS); err != nil {
		b.Unregister(sub)
		return nil, err
	}
	if ok {
		if err := sink.Send(b.frame(last)); err != nil {
			b.Unregister(sub)
			return nil, err
		}
	}

	go sub.run(b.heartbeat)
	return sub, nil
}

// Unregister removes sub and stops its delivery loop. Idempotent; safe
// to call concurrently with delivery and from the delivery loop itself.
func (b *Broker) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		b.mu.Lock()
		delete(b.subs, sub)
		n := len(b.subs)
		b.mu.Unlock()

		metrics.ActiveSubscribers.Set(float64(n))
		close(sub.done)
	})
}

// Broadcast queues ev for every connected subscriber. The whole enqueue
// pass holds the registry lock, so any two subscribers observe distinct
// events in the same relative order. Enqueue never blocks: a full queue
// drops the frame for that subscriber only.
func (b *Broker) Broadcast(ev callevent.CallEvent) {
	frame := b.frame(ev)

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- frame:
		default:
			metrics.BroadcastDropped.Inc()
			b.log.Warn("subscriber queue full, frame dropped", "event_id", ev.ID)
		}
	}
}

// SubscriberCount reports the number of tracked subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) frame(ev callevent.CallEvent) sse.Event {
	return sse.Event{
		Id:    strconv.FormatUint(b.frameID.Add(1), 10),
		Event: eventName,
		Data:  ev,
	}
}

// run is the per-subscriber delivery loop: it drains the frame queue,
// emits keep-alives on idle, and prunes the subscriber on the first
// failed write.
func (s *Subscriber) run(heartbeat time.Duration) {
	t := time.NewTicker(heartbeat)
	defer t.Stop()

	for {
		select {
		case frame := <-s.ch:
			if err := s.sink.Send(frame); err != nil {
				s.broker.Unregister(s)
				return
			}
			t.Reset(heartbeat)
		case <-t.C:
			if err := s.sink.KeepAlive(); err != nil {
				s.broker.Unregister(s)
				return
			}
		case <-s.done:
			return
		}
	}
}
