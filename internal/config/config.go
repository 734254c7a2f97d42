// Package config loads the supervisor's INI configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/samsamfire/saunasupervisor/internal/bus"
	"github.com/samsamfire/saunasupervisor/internal/ratelimit"
	"github.com/samsamfire/saunasupervisor/internal/supervisor"
)

// VentilatorConfig carries the ventilator adapter's connection and timing
// settings, read from the [ventilator] section.
type VentilatorConfig struct {
	RelayURL  string
	DelayOff  time.Duration
	KeepAlive time.Duration
	Timeout   time.Duration
}

// FloorHeatingConfig carries the floor-heating device's connection and
// setpoint settings, read from the [floorheating] section.
type FloorHeatingConfig struct {
	DeviceID        string
	LocalKey        string
	ProtocolVersion string
	TargetOnC       float64
	TargetOffC      float64
}

// File is the fully parsed configuration, ready to build a supervisor.
type File struct {
	Supervisor   supervisor.Config
	Cooldowns    map[ratelimit.Kind]time.Duration
	Ventilator   VentilatorConfig
	FloorHeating FloorHeatingConfig
	HTTPListen   string
	McbPollEvery time.Duration
}

var flicNames = map[string]supervisor.FlicAction{
	"none":     supervisor.FlicNone,
	"toggle":   supervisor.FlicToggle,
	"forceon":  supervisor.FlicForceOn,
	"forceoff": supervisor.FlicForceOff,
}

// Load parses an INI file at path into a File, falling back to
// supervisor.DefaultConfig and this package's documented defaults for any
// key that is absent.
func Load(path string) (*File, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return parse(cfg), nil
}

func parse(cfg *ini.File) *File {
	sauna := cfg.Section("sauna")
	notifications := cfg.Section("notifications")
	ventilator := cfg.Section("ventilator")
	floorheating := cfg.Section("floorheating")
	flic := cfg.Section("flic")
	httpSection := cfg.Section("http")

	defaults := supervisor.DefaultConfig()

	return &File{
		Supervisor: supervisor.Config{
			AmperageThreshold:       sauna.Key("amperageThreshold").MustFloat64(defaults.AmperageThreshold),
			SafetyFeatureEnabled:    true,
			SwitchOffCooldown:       time.Duration(sauna.Key("switchOffCooldownMs").MustInt(int(defaults.SwitchOffCooldown.Milliseconds()))) * time.Millisecond,
			TemperatureAlertCelsius: sauna.Key("temperatureAlertCelsius").MustFloat64(defaults.TemperatureAlertCelsius),
			McbStatusSource:         sauna.Key("mcbStatusSource").MustString(defaults.McbStatusSource),
			FlicMapping:             parseFlicMapping(flic),
		},
		Cooldowns: map[ratelimit.Kind]time.Duration{
			ratelimit.SafetyShutdown:   time.Duration(notifications.Key("safetyShutdownCooldownMs").MustInt(60000)) * time.Millisecond,
			ratelimit.TemperatureAlert: time.Duration(notifications.Key("temperatureAlertCooldownMs").MustInt(300000)) * time.Millisecond,
		},
		Ventilator: VentilatorConfig{
			RelayURL:  ventilator.Key("ip").MustString(""),
			DelayOff:  time.Duration(ventilator.Key("delayOffMinutes").MustInt(60)) * time.Minute,
			KeepAlive: time.Duration(ventilator.Key("keepAliveMinutes").MustInt(25)) * time.Minute,
			Timeout:   time.Duration(ventilator.Key("timeoutMs").MustInt(5000)) * time.Millisecond,
		},
		FloorHeating: FloorHeatingConfig{
			DeviceID:        floorheating.Key("deviceId").MustString(""),
			LocalKey:        floorheating.Key("localKey").MustString(""),
			ProtocolVersion: floorheating.Key("protocolVersion").MustString("3.3"),
			TargetOnC:       floorheating.Key("targetOnC").MustFloat64(21),
			TargetOffC:      floorheating.Key("targetOffC").MustFloat64(5),
		},
		HTTPListen:   httpSection.Key("listenAddr").MustString(":8080"),
		McbPollEvery: time.Duration(sauna.Key("mcbPollIntervalMs").MustInt(5000)) * time.Millisecond,
	}
}

func parseFlicMapping(section *ini.Section) map[bus.ButtonAction]supervisor.FlicAction {
	mapping := supervisor.DefaultFlicMapping()
	apply := func(gesture bus.ButtonAction, key string) {
		v := section.Key(key).String()
		if v == "" {
			return
		}
		if action, ok := flicNames[normalizeFlicName(v)]; ok {
			mapping[gesture] = action
		}
	}
	apply(bus.ButtonClick, "click")
	apply(bus.ButtonDoubleClick, "doubleClick")
	apply(bus.ButtonHold, "hold")
	return mapping
}

func normalizeFlicName(v string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), "_", ""))
}
