// Package eventbus implements a single-process pub/sub hub with a bounded
// replay ring. Every other component in the orchestration core publishes
// lifecycle events here; the API facade's SSE handlers subscribe.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultReplaySize is the number of most-recent events retained for
// subscribers that ask to replay on subscribe.
const DefaultReplaySize = 50

// SubscriberQueueSize is the bounded capacity of each subscriber's channel.
// Once full, Publish drops the event for that subscriber rather than block.
const SubscriberQueueSize = 100

// KeepaliveInterval is how long a subscriber's read loop waits for a real
// event before the bus hands it a synthetic Keepalive event.
const KeepaliveInterval = 30 * time.Second

// Event is a single published lifecycle notification.
type Event struct {
	Type      Kind           `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
}

// Bus is a pub/sub hub with bounded replay.
type Bus struct {
	mu          sync.Mutex
	replaySize  int
	replay      []Event
	subscribers map[int64]*Subscription
	nextID      int64
	log         *slog.Logger
	now         func() time.Time
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithReplaySize overrides the default replay ring capacity.
func WithReplaySize(n int) Option {
	return func(b *Bus) { b.replaySize = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithNow overrides the time source (tests only).
func WithNow(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New constructs a Bus ready to accept publishes and subscriptions.
func New(opts ...Option) *Bus {
	b := &Bus{
		replaySize:  DefaultReplaySize,
		subscribers: make(map[int64]*Subscription),
		log:         slog.Default().With("component", "eventbus"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends an event to the replay ring and non-blockingly delivers it
// to every live subscriber. A subscriber whose queue is full has the event
// dropped for it and a warning logged; Publish never blocks on a slow
// subscriber.
func (b *Bus) Publish(kind Kind, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	ev := Event{
		Type:      kind,
		Data:      data,
		Timestamp: float64(b.now().UnixNano()) / 1e9,
	}

	b.mu.Lock()
	b.replay = append(b.replay, ev)
	if len(b.replay) > b.replaySize {
		b.replay = b.replay[len(b.replay)-b.replaySize:]
	}
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		switch s.trySend(ev) {
		case sendDropped:
			b.log.Warn("dropping event for full subscriber queue", "kind", kind)
		case sendClosed:
			b.log.Debug("dropping event for closed subscriber", "kind", kind)
		}
	}
}

// Subscription is a live subscriber's handle: Next yields event frames
// (including synthetic keepalives) until the context passed to it is
// cancelled or Close is called.
type Subscription struct {
	id     int64
	bus    *Bus
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// sendOutcome reports how trySend disposed of an event.
type sendOutcome int

const (
	sendOK sendOutcome = iota
	sendDropped
	sendClosed
)

// trySend delivers ev to the subscriber's queue, guarding against a
// concurrent Close: the closed check and the channel send happen under the
// same lock Close takes before closing the channel, so trySend never sends
// on an already-closed channel.
func (s *Subscription) trySend(ev Event) sendOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sendClosed
	}
	select {
	case s.ch <- ev:
		return sendOK
	default:
		return sendDropped
	}
}

// Subscribe registers a new subscriber. If replay is true, the current
// replay ring is drained into the subscriber's queue before returning, so
// the first calls to Next surface recent history.
func (b *Bus) Subscribe(replay bool) *Subscription {
	ch := make(chan Event, SubscriberQueueSize)
	sub := &Subscription{bus: b, ch: ch}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subscribers[sub.id] = sub
	var snapshot []Event
	if replay {
		snapshot = append(snapshot, b.replay...)
	}
	b.mu.Unlock()

	for _, ev := range snapshot {
		select {
		case ch <- ev:
		default:
			break
		}
	}

	return sub
}

// Next blocks until an event is available, the KeepaliveInterval elapses
// (in which case a synthetic Keepalive event is returned), or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	timer := time.NewTimer(KeepaliveInterval)
	defer timer.Stop()

	select {
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, context.Canceled
		}
		return ev, nil
	case <-timer.C:
		return Event{Type: Keepalive, Data: map[string]any{}, Timestamp: float64(s.bus.now().UnixNano()) / 1e9}, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close deregisters the subscriber and releases its queue. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.bus.mu.Lock()
	delete(s.bus.subscribers, s.id)
	s.bus.mu.Unlock()
	close(s.ch)
}

// SubscriberCount reports the number of currently live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
