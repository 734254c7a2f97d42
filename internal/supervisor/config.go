package supervisor

import (
	"time"

	"github.com/samsamfire/saunasupervisor/internal/bus"
)

// FlicAction is the logical effect a physical button gesture resolves to.
type FlicAction uint8

const (
	FlicNone FlicAction = iota
	FlicToggle
	FlicForceOn
	FlicForceOff
)

// Config carries every supervisor-tunable value. It is assembled by
// internal/config from the INI file; the supervisor package itself never
// parses configuration.
type Config struct {
	AmperageThreshold       float64
	SafetyFeatureEnabled    bool
	SwitchOffCooldown       time.Duration
	TemperatureAlertCelsius float64
	McbStatusSource         string // "device" (authoritative) or "mqtt" (fallback observer only)
	FlicMapping             map[bus.ButtonAction]FlicAction
}

// DefaultFlicMapping is click→Toggle, doubleClick→ForceOff, hold→ForceOn.
func DefaultFlicMapping() map[bus.ButtonAction]FlicAction {
	return map[bus.ButtonAction]FlicAction{
		bus.ButtonClick:       FlicToggle,
		bus.ButtonDoubleClick: FlicForceOff,
		bus.ButtonHold:        FlicForceOn,
	}
}

// DefaultConfig returns the supervisor's out-of-the-box defaults.
func DefaultConfig() Config {
	return Config{
		AmperageThreshold:       25,
		SafetyFeatureEnabled:    true,
		SwitchOffCooldown:       10 * time.Second,
		TemperatureAlertCelsius: 85,
		McbStatusSource:         "device",
		FlicMapping:             DefaultFlicMapping(),
	}
}
