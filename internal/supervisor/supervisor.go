// Package supervisor implements the single-consumer event loop that owns
// all authoritative sauna state and arbitrates every transition. It is the
// one component allowed to mutate MCB state, and the only consumer of the
// event bus.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
	"github.com/samsamfire/saunasupervisor/internal/bus"
	"github.com/samsamfire/saunasupervisor/internal/clockwork"
	"github.com/samsamfire/saunasupervisor/internal/floorheat"
	"github.com/samsamfire/saunasupervisor/internal/ratelimit"
	"github.com/samsamfire/saunasupervisor/internal/safety"
	"github.com/samsamfire/saunasupervisor/internal/snapshot"
	"github.com/samsamfire/saunasupervisor/internal/ventilator"
)

// MetricsRecorder is the narrow surface the supervisor uses to export
// counters; internal/metrics implements it with Prometheus collectors.
type MetricsRecorder interface {
	RecordSafetyShutdown()
	RecordRateLimitDenied(kind string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSafetyShutdown()          {}
func (noopMetrics) RecordRateLimitDenied(_ string) {}

// McbStatusPoller independently re-confirms MCB power state (typically by
// polling the device directly); the supervisor only routes its timer ticks
// and shutdown, the same way it routes them to Ventilator and FloorHeat. A
// deployment with no independent poll path (McbStatusSource=="mqtt", say)
// may leave this nil.
type McbStatusPoller interface {
	HandleTimer(ctx context.Context, id string)
	Stop()
}

// state is the supervisor's authoritative record, mutated only from the
// event loop goroutine.
type state struct {
	mcb             bus.McbState
	lastPhases      *safety.Reading
	lastTemp        *snapshot.Temperature
	lastDoor        *snapshot.Door
	lastSwitchOffAt time.Time
	lastSafetyError string
}

// Supervisor is the single-threaded core. Construct with New, then run it
// on its own goroutine with Run.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	bus         *bus.Bus
	clock       *clockwork.Clock
	broadcaster *snapshot.Broadcaster
	limiter     *ratelimit.Limiter
	metrics     MetricsRecorder

	mcb       adapters.McbDevice
	notifier  adapters.Notifier
	vent      *ventilator.Controller
	floor     *floorheat.Controller
	mcbPoller McbStatusPoller

	st state
}

// Deps bundles the collaborators a Supervisor needs. All fields except
// Metrics and McbPoller are required.
type Deps struct {
	Bus         *bus.Bus
	Clock       *clockwork.Clock
	Broadcaster *snapshot.Broadcaster
	Limiter     *ratelimit.Limiter
	Metrics     MetricsRecorder
	Mcb         adapters.McbDevice
	Notifier    adapters.Notifier
	Ventilator  *ventilator.Controller
	FloorHeat   *floorheat.Controller
	McbPoller   McbStatusPoller
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	return &Supervisor{
		cfg:         cfg,
		logger:      logger.With("service", "[SUPERVISOR]"),
		bus:         deps.Bus,
		clock:       deps.Clock,
		broadcaster: deps.Broadcaster,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		mcb:         deps.Mcb,
		notifier:    deps.Notifier,
		vent:        deps.Ventilator,
		floor:       deps.FloorHeat,
		mcbPoller:   deps.McbPoller,
		st:          state{mcb: bus.McbUnknown},
	}
}

// Run drains the event bus until a Shutdown event is processed. It is the
// supervisor's only goroutine; every field mutation below happens here.
func (s *Supervisor) Run(ctx context.Context) {
	s.publishSnapshot()
	for {
		ev := s.bus.Recv()
		if s.dispatch(ctx, ev) {
			return
		}
	}
}

// dispatch handles one event and reports whether the loop should stop.
func (s *Supervisor) dispatch(ctx context.Context, ev bus.Event) (stop bool) {
	switch e := ev.(type) {
	case bus.McbObserved:
		s.handleMcbObserved(ctx, e)
	case bus.PhaseReading:
		s.handlePhaseReading(ctx, e)
	case bus.TemperatureReading:
		s.handleTemperatureReading(ctx, e)
	case bus.DoorReading:
		s.handleDoorReading(e)
	case bus.ButtonEvent:
		s.handleButtonEvent(ctx, e)
	case bus.OperatorCommand:
		s.handleOperatorCommand(ctx, e)
	case bus.TimerFired:
		s.handleTimerFired(ctx, e)
	case bus.Shutdown:
		s.handleShutdown()
		return true
	default:
		s.logger.Warn("unhandled event type, dropping")
	}
	return false
}

func (s *Supervisor) handleMcbObserved(ctx context.Context, e bus.McbObserved) {
	// Only the configured authoritative source may mutate mcb state; an
	// observation from any other source is logged but never merged, so two
	// disagreeing sources can never race each other.
	if authoritative := e.Source == s.cfg.McbStatusSource || e.Source == ""; !authoritative {
		return
	}
	if e.State == s.st.mcb {
		return
	}
	prev := s.st.mcb
	s.st.mcb = e.State
	s.publishSnapshot()
	s.triggerPeripheralTransition(ctx, prev, e.State)
}

// triggerPeripheralTransition fires the ventilator/floor-heating
// side-effects for an MCB transition, triggered identically whether the
// transition came from an McbObserved event or a successful OperatorCommand.
func (s *Supervisor) triggerPeripheralTransition(ctx context.Context, prev, next bus.McbState) {
	switch {
	case prev == bus.McbOn && next == bus.McbOff:
		go func() {
			if err := s.vent.OnMcbOff(ctx); err != nil {
				s.logger.Warn("ventilator onMcbOff failed", "err", err)
			}
		}()
		go func() {
			if err := s.floor.OnSaunaOff(ctx); err != nil {
				s.logger.Warn("floor heating onSaunaOff failed", "err", err)
			}
		}()
	case prev == bus.McbOff && next == bus.McbOn:
		go func() {
			if err := s.vent.OnMcbOn(ctx); err != nil {
				s.logger.Warn("ventilator onMcbOn failed", "err", err)
			}
		}()
		go func() {
			if err := s.floor.OnSaunaOn(ctx); err != nil {
				s.logger.Warn("floor heating onSaunaOn failed", "err", err)
			}
		}()
	}
}

func (s *Supervisor) handlePhaseReading(ctx context.Context, e bus.PhaseReading) {
	reading := safety.Reading{L1: e.L1, L2: e.L2, L3: e.L3}
	s.st.lastPhases = &reading
	s.publishSnapshot()

	if s.st.mcb != bus.McbOn || !s.cfg.SafetyFeatureEnabled {
		return
	}
	result := safety.CheckThresholds(reading, s.cfg.AmperageThreshold)
	if result.Exceeds {
		s.runSafetyShutdown(ctx, result.Offenders)
	}
}

// runSafetyShutdown enforces at-most-one shutdown attempt per cooldown
// window, independent of how many phase readings exceed threshold while
// the MCB is already off.
func (s *Supervisor) runSafetyShutdown(ctx context.Context, offenders []safety.Offender) {
	now := s.clock.Now()
	if !s.st.lastSwitchOffAt.IsZero() && now.Sub(s.st.lastSwitchOffAt) < s.cfg.SwitchOffCooldown {
		return // duplicate trip suppressed by cooldown
	}
	s.st.lastSwitchOffAt = now

	callCtx, cancel := context.WithTimeout(ctx, adapters.McbCommandTimeout)
	defer cancel()
	err := s.mcb.TurnOff(callCtx)
	if err != nil {
		s.st.lastSafetyError = err.Error()
		s.publishSnapshot()
		return
	}

	s.metrics.RecordSafetyShutdown()
	s.st.lastSafetyError = ""
	prev := s.st.mcb
	s.st.mcb = bus.McbOff
	s.publishSnapshot()
	s.triggerPeripheralTransition(ctx, prev, bus.McbOff)

	decision := s.limiter.Allow(ratelimit.SafetyShutdown, now)
	if !decision.Allowed {
		s.metrics.RecordRateLimitDenied("safety_shutdown")
		return
	}
	body := "Sauna safety shutdown: " + safety.FormatOffenders(offenders)
	notifyCtx, notifyCancel := context.WithTimeout(ctx, adapters.NotifierCallTimeout)
	defer notifyCancel()
	if err := s.notifier.SendText(notifyCtx, body); err == nil {
		s.limiter.MarkSent(ratelimit.SafetyShutdown, now)
	} else {
		s.logger.Warn("safety shutdown alert failed to send", "err", err)
	}
}

func (s *Supervisor) handleTemperatureReading(ctx context.Context, e bus.TemperatureReading) {
	temp := snapshot.Temperature{Celsius: e.Celsius, Humidity: e.Humidity}
	s.st.lastTemp = &temp
	s.publishSnapshot()

	if e.Celsius < s.cfg.TemperatureAlertCelsius {
		return
	}
	now := s.clock.Now()
	decision := s.limiter.Allow(ratelimit.TemperatureAlert, now)
	if !decision.Allowed {
		s.metrics.RecordRateLimitDenied("temperature_alert")
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, adapters.NotifierCallTimeout)
	defer cancel()
	body := "Sauna temperature alert: high temperature observed"
	if err := s.notifier.SendText(notifyCtx, body); err == nil {
		s.limiter.MarkSent(ratelimit.TemperatureAlert, now)
	} else {
		s.logger.Warn("temperature alert failed to send", "err", err)
	}
}

func (s *Supervisor) handleDoorReading(e bus.DoorReading) {
	door := snapshot.Door{IsOpen: e.IsOpen}
	s.st.lastDoor = &door
	s.publishSnapshot()
}

// handleTimerFired publishes the current snapshot, then dispatches the
// timer to the controllers off the consumer goroutine: the keep-alive
// cycle holds the relay call open for a full second between its two relay
// calls, and nothing peripheral to the critical path may block Run's loop
// the way triggerPeripheralTransition's own goroutines already don't.
func (s *Supervisor) handleTimerFired(ctx context.Context, e bus.TimerFired) {
	s.publishSnapshot()
	go func() {
		s.vent.HandleTimer(ctx, e.ID)
		s.floor.HandleTimer(ctx, e.ID)
		if s.mcbPoller != nil {
			s.mcbPoller.HandleTimer(ctx, e.ID)
		}
	}()
}

func (s *Supervisor) handleButtonEvent(ctx context.Context, e bus.ButtonEvent) {
	action, ok := s.cfg.FlicMapping[e.Action]
	if !ok {
		action = FlicNone
	}
	var kind bus.OperatorCommandKind
	switch action {
	case FlicToggle:
		kind = bus.CmdToggle
	case FlicForceOn:
		kind = bus.CmdForceOn
	case FlicForceOff:
		kind = bus.CmdForceOff
	default:
		return
	}
	s.handleOperatorCommand(ctx, bus.OperatorCommand{Kind: kind})
}

func (s *Supervisor) handleOperatorCommand(ctx context.Context, e bus.OperatorCommand) {
	result := s.executeCommand(ctx, e.Kind)
	if e.Reply != nil {
		select {
		case e.Reply <- result:
		default:
		}
	}
}

func (s *Supervisor) executeCommand(ctx context.Context, kind bus.OperatorCommandKind) bus.CommandResult {
	switch kind {
	case bus.CmdGetMcb:
		return bus.CommandResult{Ok: true, Mcb: s.st.mcb}
	case bus.CmdHealth:
		return bus.CommandResult{Ok: true, Mcb: s.st.mcb}
	case bus.CmdTestNotify:
		return s.executeTestNotify(ctx)
	case bus.CmdTurnOn:
		return s.executeMcbCommand(ctx, true)
	case bus.CmdTurnOff:
		return s.executeMcbCommand(ctx, false)
	case bus.CmdForceOn:
		return s.executeMcbCommand(ctx, true)
	case bus.CmdForceOff:
		return s.executeMcbCommand(ctx, false)
	case bus.CmdToggle:
		return s.executeMcbCommand(ctx, s.st.mcb != bus.McbOn)
	default:
		return bus.CommandResult{Ok: false, ErrKind: "unknown_command", Message: ErrUnknownCommand.Error()}
	}
}

func (s *Supervisor) executeMcbCommand(ctx context.Context, turnOn bool) bus.CommandResult {
	callCtx, cancel := context.WithTimeout(ctx, adapters.McbCommandTimeout)
	defer cancel()

	var err error
	if turnOn {
		err = s.mcb.TurnOn(callCtx)
	} else {
		err = s.mcb.TurnOff(callCtx)
	}
	if err != nil {
		return bus.CommandResult{Ok: false, ErrKind: "operator_command_failed", Message: err.Error(), Mcb: s.st.mcb}
	}

	prev := s.st.mcb
	next := bus.McbOff
	if turnOn {
		next = bus.McbOn
	}
	s.st.mcb = next
	s.publishSnapshot()
	s.triggerPeripheralTransition(ctx, prev, next)
	return bus.CommandResult{Ok: true, Mcb: next}
}

// executeTestNotify is the one system-initiated notification permitted to
// bypass the rate limiter, so an operator can always confirm the
// notification channel works regardless of recent alert activity.
func (s *Supervisor) executeTestNotify(ctx context.Context) bus.CommandResult {
	callCtx, cancel := context.WithTimeout(ctx, adapters.NotifierCallTimeout)
	defer cancel()
	if err := s.notifier.SendText(callCtx, "Sauna supervisor test notification"); err != nil {
		return bus.CommandResult{Ok: false, ErrKind: "notifier_failed", Message: err.Error()}
	}
	return bus.CommandResult{Ok: true, Mcb: s.st.mcb}
}

func (s *Supervisor) handleShutdown() {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, ok := s.bus.TryRecv()
		if !ok {
			break
		}
		s.dispatch(context.Background(), ev)
	}
	s.vent.StopAll()
	s.floor.Stop()
	if s.mcbPoller != nil {
		s.mcbPoller.Stop()
	}
	if err := s.mcb.Close(); err != nil {
		s.logger.Warn("error closing mcb adapter", "err", err)
	}
}

func (s *Supervisor) publishSnapshot() {
	snap := snapshot.Snapshot{
		Mcb:             s.st.mcb,
		McbSource:       s.cfg.McbStatusSource,
		LastSafetyError: s.st.lastSafetyError,
		At:              s.clock.Now(),
	}
	if s.st.lastPhases != nil {
		snap.Phases = &snapshot.Phases{L1: s.st.lastPhases.L1, L2: s.st.lastPhases.L2, L3: s.st.lastPhases.L3}
	}
	snap.Temperature = s.st.lastTemp
	snap.Door = s.st.lastDoor

	ventSummary := s.vent.GetSummary()
	snap.Ventilator = &snapshot.VentilatorView{
		IsOn:                  ventSummary.RelayIsOn,
		HasDelayedOff:         ventSummary.HasDelayedOff,
		DelayedOffRemainingMs: ventSummary.DelayedOffRemainingMs,
	}

	floorState := s.floor.GetState()
	snap.FloorHeating = &snapshot.FloorHeatingView{
		Mode:     floorState.Mode,
		Action:   floorState.Action,
		TargetC:  floorState.TargetC,
		CurrentC: floorState.CurrentC,
	}

	s.broadcaster.Publish(snap)
}
