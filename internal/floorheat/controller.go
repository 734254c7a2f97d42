// Package floorheat drives the floor-heating thermostat: a manual setpoint
// pinned to the sauna's on/off state, refreshed on a periodic status poll.
package floorheat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
	"github.com/samsamfire/saunasupervisor/internal/clockwork"
)

// State is the floor-heating controller's reported state for the live
// snapshot.
type State struct {
	Mode     string
	Action   string
	TargetC  float64
	CurrentC float64
	At       time.Time
}

// Controller wraps the thermostat adapter. Commands are best-effort and
// fire-and-forget from the supervisor's perspective: failures are reported
// to the caller but never block an MCB state transition.
//
// Controller does not push state-change notifications itself: the
// supervisor republishes the live snapshot on every TimerFired dispatch,
// which already picks up whatever refresh() last recorded.
type Controller struct {
	thermostat adapters.Thermostat
	clock      *clockwork.Clock
	logger     *slog.Logger
	tempOn     float64
	tempOff    float64
	pollEvery  time.Duration

	mu         sync.Mutex
	last       State
	pollHandle *clockwork.Handle
}

func New(thermostat adapters.Thermostat, clock *clockwork.Clock, logger *slog.Logger, tempOn, tempOff float64, pollEvery time.Duration) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if pollEvery <= 0 {
		pollEvery = 30 * time.Second
	}
	c := &Controller{
		thermostat: thermostat,
		clock:      clock,
		logger:     logger.With("service", "[FLOORHEAT]"),
		tempOn:     tempOn,
		tempOff:    tempOff,
		pollEvery:  pollEvery,
	}
	handle := clock.Every(pollEvery)
	c.pollHandle = &handle
	return c
}

// OnSaunaOn sets mode=Manual, target=tempOn.
func (c *Controller) OnSaunaOn(ctx context.Context) error {
	return c.applySetpoint(ctx, c.tempOn)
}

// OnSaunaOff sets mode=Manual, target=tempOff (standby).
func (c *Controller) OnSaunaOff(ctx context.Context) error {
	return c.applySetpoint(ctx, c.tempOff)
}

func (c *Controller) applySetpoint(ctx context.Context, target float64) error {
	callCtx, cancel := context.WithTimeout(ctx, adapters.ThermostatCallTimeout)
	defer cancel()
	if err := c.thermostat.SetMode(callCtx, adapters.ModeManual); err != nil {
		return err
	}
	return c.thermostat.SetTargetC(callCtx, target)
}

// HandleTimer refreshes the status reading if id belongs to this
// controller's poll timer; other ids are ignored.
func (c *Controller) HandleTimer(ctx context.Context, id string) {
	c.mu.Lock()
	owns := c.pollHandle != nil && c.pollHandle.ID() == id && c.clock.Valid(id, *c.pollHandle)
	c.mu.Unlock()
	if !owns {
		return
	}
	c.refresh(ctx)
}

func (c *Controller) refresh(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, adapters.ThermostatCallTimeout)
	defer cancel()
	status, err := c.thermostat.Status(callCtx)
	if err != nil {
		c.logger.Warn("status poll failed", "err", err)
		return
	}
	state := State{
		Mode:     modeString(status.Mode),
		Action:   status.Action,
		TargetC:  status.TargetC,
		CurrentC: status.CurrentC,
		At:       c.clock.Now(),
	}
	c.mu.Lock()
	c.last = state
	c.mu.Unlock()
}

func modeString(m adapters.ThermostatMode) string {
	switch m {
	case adapters.ModeAuto:
		return "auto"
	case adapters.ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// GetState returns the last known state for the live snapshot.
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Stop cancels the periodic poll timer.
func (c *Controller) Stop() {
	c.mu.Lock()
	handle := c.pollHandle
	c.pollHandle = nil
	c.mu.Unlock()
	if handle != nil {
		c.clock.Cancel(*handle)
	}
}
