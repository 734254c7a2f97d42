// Package mqtt ingests sensor, button, ventilator-status and (optionally)
// MCB-status readings from an MQTT broker and posts them onto the event
// bus. It never mutates supervisor state directly; every topic handler ends
// in a bus.Post.
package mqtt

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/samsamfire/saunasupervisor/internal/bus"
)

// Poster is the narrow surface the adapter needs from the event bus.
type Poster interface {
	Post(e bus.Event)
}

// TopicConfig names the concrete MQTT topics this deployment listens on;
// an empty string disables that subscription.
type TopicConfig struct {
	PhaseL1    string
	PhaseL2    string
	PhaseL3    string
	Temperature string
	Door       string
	Button     string
	Ventilator string
	McbStatus  string
}

// Adapter owns one paho client and the phase-reading accumulator: a
// PhaseReading is only posted once all three phases have been observed
// since the connection was established.
type Adapter struct {
	client paho.Client
	topics TopicConfig
	poster Poster
	logger *slog.Logger

	mu     sync.Mutex
	phases struct {
		l1, l2, l3    float64
		haveL1, haveL2, haveL3 bool
	}
}

func New(brokerURL, clientID string, topics TopicConfig, poster Poster, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{topics: topics, poster: poster, logger: logger.With("service", "[MQTT]")}

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(a.onConnectionLost).
		SetOnConnectHandler(a.onConnect)
	a.client = paho.NewClient(opts)
	return a
}

// Connect blocks until the initial connection succeeds or fails.
func (a *Adapter) Connect() error {
	token := a.client.Connect()
	token.Wait()
	return token.Error()
}

// Close disconnects the underlying client.
func (a *Adapter) Close() {
	a.client.Disconnect(250)
}

func (a *Adapter) onConnectionLost(_ paho.Client, err error) {
	a.logger.Warn("connection lost", "err", err)
}

// onConnect (re)subscribes to every configured topic. Re-subscribing on
// every reconnect also resets the phase accumulator, since a dropped
// connection means readings may have been missed.
func (a *Adapter) onConnect(client paho.Client) {
	a.mu.Lock()
	a.phases.haveL1, a.phases.haveL2, a.phases.haveL3 = false, false, false
	a.mu.Unlock()

	subscribe := func(topic string, handler paho.MessageHandler) {
		if topic == "" {
			return
		}
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			a.logger.Error("subscribe failed", "topic", topic, "err", token.Error())
		}
	}

	subscribe(a.topics.PhaseL1, a.handlePhase(phaseL1))
	subscribe(a.topics.PhaseL2, a.handlePhase(phaseL2))
	subscribe(a.topics.PhaseL3, a.handlePhase(phaseL3))
	subscribe(a.topics.Temperature, a.handleTemperature)
	subscribe(a.topics.Door, a.handleDoor)
	subscribe(a.topics.Button, a.handleButton)
	subscribe(a.topics.Ventilator, a.handleVentilatorStatus)
	subscribe(a.topics.McbStatus, a.handleMcbStatus)
}

type phaseLeg int

const (
	phaseL1 phaseLeg = iota
	phaseL2
	phaseL3
)

func (a *Adapter) handlePhase(leg phaseLeg) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		amps, ok := parseFloatPayload(msg.Payload())
		if !ok {
			a.logger.Warn("unparseable phase payload", "topic", msg.Topic())
			return
		}
		a.mu.Lock()
		switch leg {
		case phaseL1:
			a.phases.l1, a.phases.haveL1 = amps, true
		case phaseL2:
			a.phases.l2, a.phases.haveL2 = amps, true
		case phaseL3:
			a.phases.l3, a.phases.haveL3 = amps, true
		}
		complete := a.phases.haveL1 && a.phases.haveL2 && a.phases.haveL3
		reading := bus.PhaseReading{L1: a.phases.l1, L2: a.phases.l2, L3: a.phases.l3, At: time.Now()}
		a.mu.Unlock()

		if complete {
			a.poster.Post(reading)
		}
	}
}

// ruuviPayload matches the Ruuvi gateway's documented field names: temp is
// required, the rest are optional and carried through as-is.
type ruuviPayload struct {
	Temp     *float64 `json:"temp"`
	Humidity *float64 `json:"humidity"`
	Pressure *float64 `json:"pressure"`
	Batt     *float64 `json:"batt"`
	RSSI     *int     `json:"rssi"`
}

func (a *Adapter) handleTemperature(_ paho.Client, msg paho.Message) {
	var p ruuviPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil || p.Temp == nil {
		a.logger.Warn("unparseable temperature payload", "topic", msg.Topic(), "err", err)
		return
	}
	a.poster.Post(bus.TemperatureReading{
		Celsius:  *p.Temp,
		Humidity: p.Humidity,
		BatteryV: p.Batt,
		RSSI:     p.RSSI,
		At:       time.Now(),
	})
}

// doorPayload matches the documented wire format: Window is a JSON number
// (0 closed, 1 open), not a boolean.
type doorPayload struct {
	Window  *int     `json:"Window"`
	Battery *float64 `json:"Battery"`
}

func (a *Adapter) handleDoor(_ paho.Client, msg paho.Message) {
	var p doorPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil || p.Window == nil {
		a.logger.Warn("unparseable door payload", "topic", msg.Topic(), "err", err)
		return
	}
	a.poster.Post(bus.DoorReading{IsOpen: *p.Window != 0, BatteryP: p.Battery, At: time.Now()})
}

type buttonPayload struct {
	Action   string `json:"action"`
	Click    string `json:"click"`
	ButtonID string `json:"button_id"`
}

func (a *Adapter) handleButton(_ paho.Client, msg paho.Message) {
	var p buttonPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		a.logger.Warn("unparseable button payload", "topic", msg.Topic(), "err", err)
		return
	}
	raw := p.Action
	if raw == "" {
		raw = p.Click
	}
	action, ok := normalizeButtonAction(raw)
	if !ok {
		a.logger.Debug("ignoring unrecognised button action", "raw", raw)
		return
	}
	id := p.ButtonID
	if id == "" {
		id = msg.Topic()
	}
	a.poster.Post(bus.ButtonEvent{Action: action, ID: id, At: time.Now()})
}

func normalizeButtonAction(raw string) (bus.ButtonAction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "single", "single_click", "click":
		return bus.ButtonClick, true
	case "double", "double_click", "doubleclick":
		return bus.ButtonDoubleClick, true
	case "long", "hold", "long_press", "longpress":
		return bus.ButtonHold, true
	default:
		return bus.ButtonUnknown, false
	}
}

// ventilatorStatusPayload tolerates the four shapes seen across the relay
// families this adapter has been pointed at in the field: a plain
// "output" bool, a gen-2 "switch:0.output", a generic "status" bool, or a
// string "state" of "on"/"off".
type ventilatorStatusPayload struct {
	Output  *bool   `json:"output"`
	Status  *bool   `json:"status"`
	State   *string `json:"state"`
	Switch0 *struct {
		Output bool `json:"output"`
	} `json:"switch:0"`
}

func (a *Adapter) handleVentilatorStatus(_ paho.Client, msg paho.Message) {
	var p ventilatorStatusPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		a.logger.Warn("unparseable ventilator status payload", "topic", msg.Topic(), "err", err)
		return
	}
	if p.Output == nil && p.Status == nil && p.State == nil && p.Switch0 == nil {
		a.logger.Warn("ventilator status payload had no recognised field", "topic", msg.Topic())
	}
	// The ventilator relay's own status is read synchronously via its HTTP
	// adapter (internal/adapters/relay); this handler only keeps the
	// subscription alive and validates payload shape, since the ventilator
	// controller is the sole authority for relay on/off state.
}

type mcbStatusPayload struct {
	On *bool `json:"on"`
}

func (a *Adapter) handleMcbStatus(_ paho.Client, msg paho.Message) {
	var p mcbStatusPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil || p.On == nil {
		a.logger.Warn("unparseable mcb status payload", "topic", msg.Topic(), "err", err)
		return
	}
	state := bus.McbOff
	if *p.On {
		state = bus.McbOn
	}
	a.poster.Post(bus.McbObserved{State: state, Source: "mqtt"})
}

func parseFloatPayload(payload []byte) (float64, bool) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
