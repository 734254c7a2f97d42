// Package clockwork provides the monotonic clock and timer primitives used
// by the supervisor and its peripheral controllers. Timers never invoke
// application logic directly: firing posts a TimerFired event onto the
// supplied sink, matching the uniform message discipline required of every
// suspension point in the supervisor.
package clockwork

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives timer completion notifications. internal/bus.Bus implements
// this interface; tests can substitute a simple slice-backed recorder.
type Sink interface {
	PostTimerFired(id string)
}

// Handle identifies an armed timer and carries a generation counter so that
// a cancellation racing with an in-flight firing is never honoured after the
// fact: Clock.Cancel bumps the generation, and Deliver, called by the event
// consumer right before acting on a TimerFired, is rejected if the
// generation has moved on.
type Handle struct {
	id         string
	generation uint64
}

type timerEntry struct {
	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
	ticker     *time.Ticker
	stopCh     chan struct{}
}

// Clock is the single source of time for the supervisor. A production
// process uses the real wall clock; tests construct a Clock with a fake
// now() via NewFake to drive timers deterministically.
type Clock struct {
	nowFunc func() time.Time
	sink    Sink

	mu      sync.Mutex
	entries map[string]*timerEntry
	nextId  uint64
}

// New returns a Clock backed by the real wall clock.
func New(sink Sink) *Clock {
	return &Clock{
		nowFunc: time.Now,
		sink:    sink,
		entries: make(map[string]*timerEntry),
	}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	return c.nowFunc()
}

func (c *Clock) newId() string {
	n := atomic.AddUint64(&c.nextId, 1)
	return "t" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// After arms a one-shot timer that posts TimerFired(handle.id) after dur.
func (c *Clock) After(dur time.Duration) Handle {
	c.mu.Lock()
	id := c.newId()
	entry := &timerEntry{generation: 1}
	c.entries[id] = entry
	c.mu.Unlock()

	gen := entry.generation
	entry.timer = time.AfterFunc(dur, func() {
		entry.mu.Lock()
		current := entry.generation
		entry.mu.Unlock()
		if current != gen {
			return
		}
		c.sink.PostTimerFired(id)
	})
	return Handle{id: id, generation: gen}
}

// Every arms a periodic timer that posts TimerFired(handle.id) on each tick
// until cancelled.
func (c *Clock) Every(dur time.Duration) Handle {
	c.mu.Lock()
	id := c.newId()
	entry := &timerEntry{generation: 1, stopCh: make(chan struct{})}
	c.entries[id] = entry
	c.mu.Unlock()

	gen := entry.generation
	entry.ticker = time.NewTicker(dur)
	go func() {
		for {
			select {
			case <-entry.stopCh:
				return
			case <-entry.ticker.C:
				entry.mu.Lock()
				current := entry.generation
				entry.mu.Unlock()
				if current != gen {
					return
				}
				c.sink.PostTimerFired(id)
			}
		}
	}()
	return Handle{id: id, generation: gen}
}

// Cancel stops the timer referenced by handle. It is idempotent and
// guarantees no further TimerFired is honoured for this handle, even if one
// is already queued on the bus.
func (c *Clock) Cancel(handle Handle) {
	c.mu.Lock()
	entry, ok := c.entries[handle.id]
	c.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.generation != handle.generation {
		return
	}
	entry.generation++
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if entry.ticker != nil {
		entry.ticker.Stop()
		close(entry.stopCh)
	}
}

// Valid reports whether the TimerFired event named id still corresponds to
// the generation recorded in handle. The supervisor calls this on dispatch
// to drop deliveries from a timer that was since reset or cancelled.
func (c *Clock) Valid(id string, handle Handle) bool {
	c.mu.Lock()
	entry, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.generation == handle.generation
}

// ID exposes the opaque timer identifier carried in TimerFired events.
func (h Handle) ID() string { return h.id }
