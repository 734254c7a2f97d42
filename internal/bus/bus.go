// Package bus implements the supervisor's single-consumer mailbox: a
// bounded, typed event queue fed by adapters, the HTTP layer and the timer
// service, drained by exactly one consumer (internal/supervisor.Supervisor).
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// McbState mirrors the discriminated MCB status used throughout the
// supervisor and its adapters.
type McbState uint8

const (
	McbUnknown McbState = iota
	McbOn
	McbOff
)

func (s McbState) String() string {
	switch s {
	case McbOn:
		return "on"
	case McbOff:
		return "off"
	default:
		return "unknown"
	}
}

// ButtonAction is the normalized button gesture, independent of the raw
// vendor payload that produced it.
type ButtonAction uint8

const (
	ButtonUnknown ButtonAction = iota
	ButtonClick
	ButtonDoubleClick
	ButtonHold
)

// OperatorCommandKind enumerates the eight logical operator commands.
type OperatorCommandKind uint8

const (
	CmdGetMcb OperatorCommandKind = iota
	CmdTurnOn
	CmdTurnOff
	CmdToggle
	CmdForceOn
	CmdForceOff
	CmdTestNotify
	CmdHealth
)

// Event is the tagged union of everything the supervisor can consume.
// Concrete types below implement it; exhaustive dispatch happens via a type
// switch in internal/supervisor.
type Event interface {
	isEvent()
}

type McbObserved struct {
	State  McbState
	Source string // "device" or "mqtt", per the configurable authoritative source
}

type PhaseReading struct {
	L1, L2, L3 float64
	At         time.Time
}

type TemperatureReading struct {
	Celsius  float64
	Humidity *float64
	BatteryV *float64
	RSSI     *int
	At       time.Time
}

type DoorReading struct {
	IsOpen   bool
	BatteryP *float64
	At       time.Time
}

type ButtonEvent struct {
	Action ButtonAction
	ID     string
	At     time.Time
}

// OperatorCommand carries an optional reply channel so HTTP handlers can
// await the outcome of a command that was serialised onto the bus.
type OperatorCommand struct {
	Kind  OperatorCommandKind
	Reply chan<- CommandResult
}

type CommandResult struct {
	Ok      bool
	ErrKind string
	Message string
	Mcb     McbState
}

type TimerFired struct {
	ID string
}

type Shutdown struct{}

func (McbObserved) isEvent()        {}
func (PhaseReading) isEvent()       {}
func (TemperatureReading) isEvent() {}
func (DoorReading) isEvent()        {}
func (ButtonEvent) isEvent()        {}
func (OperatorCommand) isEvent()    {}
func (TimerFired) isEvent()         {}
func (Shutdown) isEvent()           {}

// critical reports whether an event must never be dropped by the overflow
// policy. PhaseReading and McbObserved drive safety decisions and are
// always critical.
func critical(e Event) bool {
	switch e.(type) {
	case PhaseReading, McbObserved:
		return true
	default:
		return false
	}
}

// OverflowRecorder is notified whenever the bus drops an event to make
// room, so callers can export it as a metric.
type OverflowRecorder interface {
	RecordBusOverflow()
}

type noopRecorder struct{}

func (noopRecorder) RecordBusOverflow() {}

const defaultCapacity = 256
const criticalBlockTimeout = 100 * time.Millisecond

// queued pairs a pending event with the criticality it was posted with, so
// the overflow policy can tell which queued entries it may evict without
// re-deriving it (and without ever reclassifying an event after the fact).
type queued struct {
	event    Event
	critical bool
}

// Bus is the bounded single-consumer mailbox the supervisor reads from. It
// is backed by a mutex-guarded slice rather than a plain Go channel, since
// the overflow policy must be able to evict a specific queued entry (the
// oldest non-critical one) rather than whatever sits at the front.
type Bus struct {
	mu       sync.Mutex
	queue    []queued
	capacity int
	logger   *slog.Logger
	metrics  OverflowRecorder

	// wake is signalled (non-blocking, buffered 1) on every enqueue and
	// dequeue, so Recv can block without polling and a blocked critical
	// Post can retry as soon as the consumer frees a slot.
	wake chan struct{}
}

// New creates a Bus with the given capacity (256 or more recommended).
func New(capacity int, logger *slog.Logger, metrics OverflowRecorder) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Bus{
		capacity: capacity,
		logger:   logger.With("service", "[BUS]"),
		metrics:  metrics,
		wake:     make(chan struct{}, 1),
	}
}

func (b *Bus) signalWake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// tryEnqueue appends e if there is room, reporting whether it did.
func (b *Bus) tryEnqueue(e Event, crit bool) bool {
	b.mu.Lock()
	if len(b.queue) >= b.capacity {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, queued{event: e, critical: crit})
	b.mu.Unlock()
	b.signalWake()
	return true
}

// Post enqueues an event, applying the overflow policy: on a full queue,
// the oldest non-critical entry already queued is dropped to make room,
// scanning past any critical entries at the front rather than evicting
// them. Critical events (PhaseReading, McbObserved) additionally block the
// producer for up to 100ms, giving the consumer a chance to drain space
// naturally before the overflow policy forces room.
func (b *Bus) Post(e Event) {
	crit := critical(e)
	if b.tryEnqueue(e, crit) {
		return
	}
	if !crit {
		b.dropOldestNonCriticalAndInsert(e, crit)
		return
	}

	timer := time.NewTimer(criticalBlockTimeout)
	defer timer.Stop()
	for {
		select {
		case <-b.wake:
			if b.tryEnqueue(e, crit) {
				return
			}
		case <-timer.C:
			b.dropOldestNonCriticalAndInsert(e, crit)
			return
		}
	}
}

// dropOldestNonCriticalAndInsert evicts the oldest non-critical queued
// entry (scanning past critical ones) and enqueues e in its place. If every
// queued entry is critical, a non-critical e is dropped instead of
// inserted (there is no safe victim), and a critical e is appended even
// though that exceeds capacity: the invariant that critical events are
// never dropped takes priority over the capacity bound.
func (b *Bus) dropOldestNonCriticalAndInsert(e Event, crit bool) {
	b.mu.Lock()
	victim := -1
	for i, q := range b.queue {
		if !q.critical {
			victim = i
			break
		}
	}
	if victim < 0 {
		if !crit {
			b.mu.Unlock()
			b.logger.Warn("dropping incoming non-critical event, bus full of critical events", "dropped_type", eventType(e))
			b.metrics.RecordBusOverflow()
			return
		}
		b.queue = append(b.queue, queued{event: e, critical: crit})
		b.mu.Unlock()
		b.logger.Warn("bus exceeding capacity to avoid dropping a critical event", "capacity", b.capacity)
		b.signalWake()
		return
	}

	dropped := b.queue[victim]
	b.queue = append(b.queue[:victim], b.queue[victim+1:]...)
	b.queue = append(b.queue, queued{event: e, critical: crit})
	b.mu.Unlock()
	b.logger.Warn("dropping oldest non-critical event, bus full", "dropped_type", eventType(dropped.event))
	b.metrics.RecordBusOverflow()
	b.signalWake()
}

// Recv blocks until the next event is available.
func (b *Bus) Recv() Event {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			q := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			b.signalWake()
			return q.event
		}
		b.mu.Unlock()
		<-b.wake
	}
}

// TryRecv pops the next event without blocking, reporting whether one was
// available. Used by the supervisor's bounded shutdown drain.
func (b *Bus) TryRecv() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	q := b.queue[0]
	b.queue = b.queue[1:]
	return q.event, true
}

// PostTimerFired implements clockwork.Sink so the Clock can post directly.
func (b *Bus) PostTimerFired(id string) {
	b.Post(TimerFired{ID: id})
}

func eventType(e Event) string {
	switch e.(type) {
	case McbObserved:
		return "McbObserved"
	case PhaseReading:
		return "PhaseReading"
	case TemperatureReading:
		return "TemperatureReading"
	case DoorReading:
		return "DoorReading"
	case ButtonEvent:
		return "ButtonEvent"
	case OperatorCommand:
		return "OperatorCommand"
	case TimerFired:
		return "TimerFired"
	case Shutdown:
		return "Shutdown"
	default:
		return "unknown"
	}
}
