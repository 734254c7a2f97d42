// Package snapshot holds the supervisor's live view and fans it out to
// subscribed UI clients with a slow-consumer drop-oldest policy.
package snapshot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samsamfire/saunasupervisor/internal/bus"
)

// FloorHeatingView is the floor-heating portion of a Snapshot.
type FloorHeatingView struct {
	Mode       string
	Action     string
	TargetC    float64
	CurrentC   float64
}

// VentilatorView is the ventilator portion of a Snapshot.
type VentilatorView struct {
	IsOn                  bool
	HasDelayedOff         bool
	DelayedOffRemainingMs int64
}

// Snapshot is the immutable current-value view handed to subscribers. Every
// field besides Mcb and At is a pointer/zero-value so absence of a reading
// is representable without a sentinel.
type Snapshot struct {
	Mcb             bus.McbState
	McbSource       string // the configured authoritative source ("device" or "mqtt")
	Phases          *Phases
	Temperature     *Temperature
	Door            *Door
	Ventilator      *VentilatorView
	FloorHeating    *FloorHeatingView
	LastSafetyError string
	At              time.Time
}

type Phases struct {
	L1, L2, L3 float64
}

type Temperature struct {
	Celsius  float64
	Humidity *float64
}

type Door struct {
	IsOpen bool
}

const subscriberBufferDepth = 8

type subscriber struct {
	id     string
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

// Broadcaster stores the latest snapshot and fans changes out to
// subscribers, each with its own bounded buffer.
type Broadcaster struct {
	mu      sync.Mutex
	current Snapshot
	subs    map[string]*subscriber
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]*subscriber),
		logger: logger.With("service", "[SNAPSHOT]"),
	}
}

// Publish stores newSnapshot as current and delivers it to every subscriber,
// applying the drop-oldest policy per subscriber independently.
func (b *Broadcaster) Publish(newSnapshot Snapshot) {
	b.mu.Lock()
	b.current = newSnapshot
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s, newSnapshot)
	}
}

func (b *Broadcaster) deliver(s *subscriber, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	// Buffer full: discard the oldest pending snapshot, then enqueue the new
	// one. A slow subscriber should see the current state, not a backlog.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
		// Lost a race with a concurrent close; nothing more to do.
	}
}

// Subscribe registers a new subscriber and immediately delivers the current
// snapshot as its first event, returning the channel to read from and an
// id to pass to Unsubscribe.
func (b *Broadcaster) Subscribe() (id string, ch <-chan Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{
		id: uuid.NewString(),
		ch: make(chan Snapshot, subscriberBufferDepth),
	}
	b.subs[s.id] = s
	s.ch <- b.current
	b.logger.Debug("subscriber connected", "id", s.id)
	return s.id, s.ch
}

// Unsubscribe removes a subscriber. It is idempotent.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Current returns the most recently published snapshot.
func (b *Broadcaster) Current() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// SubscriberCount reports the number of currently attached subscribers,
// used by the HTTP health endpoint.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
