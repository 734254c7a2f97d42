// Package ventilator drives the sauna ventilator relay: a delayed-off timer
// after the heater switches off, and a keep-alive cycler that defeats any
// upstream auto-off timer while the heater is running.
package ventilator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
	"github.com/samsamfire/saunasupervisor/internal/clockwork"
)

// Summary is the reported state of the ventilator controller.
type Summary struct {
	Enabled               bool
	RelayIsOn             bool
	HasDelayedOff         bool
	DelayedOffRemainingMs int64
	KeepAliveActive       bool
}

// Controller is exclusively owned by the supervisor's single consumer
// goroutine: every exported method here runs on that goroutine, so the
// mutex below guards only the fields read concurrently by Summary() from
// the HTTP/snapshot path.
type Controller struct {
	relay  adapters.VentilatorRelay
	clock  *clockwork.Clock
	logger *slog.Logger

	delayOff     time.Duration
	keepAlive    time.Duration

	mu                 sync.Mutex
	relayIsOn          *bool
	delayedOffHandle   *clockwork.Handle
	delayedOffDeadline *time.Time
	keepAliveHandle    *clockwork.Handle
	keepAliveRunning   bool
}

func New(relay adapters.VentilatorRelay, clock *clockwork.Clock, logger *slog.Logger, delayOff, keepAlive time.Duration) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		relay:     relay,
		clock:     clock,
		logger:    logger.With("service", "[VENTILATOR]"),
		delayOff:  delayOff,
		keepAlive: keepAlive,
	}
}

// OnMcbOn cancels any pending delayed-off and turns the relay on; if no
// keep-alive cycle is running, one is started.
func (c *Controller) OnMcbOn(ctx context.Context) error {
	c.mu.Lock()
	c.cancelDelayedOffLocked()
	needsKeepAlive := !c.keepAliveRunning
	c.mu.Unlock()

	err := c.setRelay(ctx, true)

	c.mu.Lock()
	if needsKeepAlive {
		handle := c.clock.Every(c.keepAlive)
		c.keepAliveHandle = &handle
		c.keepAliveRunning = true
	}
	c.mu.Unlock()
	return err
}

// OnMcbOff schedules a delayed-off if the relay is observed on (or
// unknown); if it is observed off, keep-alive is stopped immediately.
func (c *Controller) OnMcbOff(ctx context.Context) error {
	c.mu.Lock()
	observedOff := c.relayIsOn != nil && !*c.relayIsOn
	c.mu.Unlock()

	if observedOff {
		c.stopKeepAlive()
		return nil
	}

	c.mu.Lock()
	c.cancelDelayedOffLocked()
	handle := c.clock.After(c.delayOff)
	deadline := c.clock.Now().Add(c.delayOff)
	c.delayedOffHandle = &handle
	c.delayedOffDeadline = &deadline
	c.mu.Unlock()
	return nil
}

// HandleTimer dispatches a TimerFired event to this controller if (and only
// if) it still owns a live timer with that id; stale/cancelled generations
// are silently ignored.
func (c *Controller) HandleTimer(ctx context.Context, id string) {
	c.mu.Lock()
	isDelayedOff := c.delayedOffHandle != nil && c.delayedOffHandle.ID() == id && c.clock.Valid(id, *c.delayedOffHandle)
	isKeepAlive := c.keepAliveHandle != nil && c.keepAliveHandle.ID() == id && c.clock.Valid(id, *c.keepAliveHandle)
	c.mu.Unlock()

	switch {
	case isDelayedOff:
		c.onDelayedOffFired(ctx)
	case isKeepAlive:
		c.keepAliveTick(ctx)
	}
}

func (c *Controller) onDelayedOffFired(ctx context.Context) {
	_ = c.setRelay(ctx, false)
	c.mu.Lock()
	c.delayedOffHandle = nil
	c.delayedOffDeadline = nil
	c.mu.Unlock()
	c.stopKeepAlive()
}

// keepAliveTick cycles the relay off, waits 1s, then turns it back on, to
// defeat any upstream auto-off timer. Relay failures are logged and do not
// alter the state machine.
func (c *Controller) keepAliveTick(ctx context.Context) {
	if err := c.setRelay(ctx, false); err != nil {
		c.logger.Warn("keep-alive cycle: relay off failed", "err", err)
		return
	}
	time.Sleep(1 * time.Second)
	if err := c.setRelay(ctx, true); err != nil {
		c.logger.Warn("keep-alive cycle: relay on failed", "err", err)
	}
}

// StopAll cancels both timers and clears state; used on Shutdown.
func (c *Controller) StopAll() {
	c.mu.Lock()
	c.cancelDelayedOffLocked()
	c.mu.Unlock()
	c.stopKeepAlive()
}

func (c *Controller) stopKeepAlive() {
	c.mu.Lock()
	handle := c.keepAliveHandle
	c.keepAliveHandle = nil
	c.keepAliveRunning = false
	c.mu.Unlock()
	if handle != nil {
		c.clock.Cancel(*handle)
	}
}

func (c *Controller) cancelDelayedOffLocked() {
	if c.delayedOffHandle != nil {
		c.clock.Cancel(*c.delayedOffHandle)
	}
	c.delayedOffHandle = nil
	c.delayedOffDeadline = nil
}

func (c *Controller) setRelay(ctx context.Context, on bool) error {
	callCtx, cancel := context.WithTimeout(ctx, adapters.VentilatorCallTimeout)
	defer cancel()
	err := c.relay.Set(callCtx, on)
	c.mu.Lock()
	if err == nil {
		c.relayIsOn = &on
	}
	c.mu.Unlock()
	return err
}

// GetSummary reports the current state for the live snapshot.
func (c *Controller) GetSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Enabled:         true,
		KeepAliveActive: c.keepAliveRunning,
		HasDelayedOff:   c.delayedOffHandle != nil,
	}
	if c.relayIsOn != nil {
		s.RelayIsOn = *c.relayIsOn
	}
	if c.delayedOffDeadline != nil {
		remaining := c.delayedOffDeadline.Sub(c.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		s.DelayedOffRemainingMs = remaining.Milliseconds()
	}
	return s
}
