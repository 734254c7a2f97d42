package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowThenMarkSentThenDeniedWithinCooldown(t *testing.T) {
	l := New(nil)
	t0 := time.Unix(1000, 0)

	d := l.Allow(SafetyShutdown, t0)
	assert.True(t, d.Allowed)

	l.MarkSent(SafetyShutdown, t0)

	t1 := t0.Add(30 * time.Second)
	d = l.Allow(SafetyShutdown, t1)
	assert.False(t, d.Allowed)
	assert.Equal(t, (30 * time.Second).Milliseconds(), d.RemainingMs)
}

func TestAllowedAgainAfterCooldownElapses(t *testing.T) {
	l := New(nil)
	t0 := time.Unix(1000, 0)
	l.MarkSent(TemperatureAlert, t0)

	after := t0.Add(300 * time.Second)
	d := l.Allow(TemperatureAlert, after)
	assert.True(t, d.Allowed)
}

func TestDeniedAttemptsDoNotShiftTheWindow(t *testing.T) {
	l := New(nil)
	t0 := time.Unix(1000, 0)
	l.MarkSent(SafetyShutdown, t0)

	// A denied check at t0+10s must not move the ledger forward.
	_ = l.Allow(SafetyShutdown, t0.Add(10*time.Second))

	// At t0+61s (>= 60s cooldown from the *original* mark) it must be allowed.
	d := l.Allow(SafetyShutdown, t0.Add(61*time.Second))
	assert.True(t, d.Allowed)
}

func TestLedgerIsMonotoneNonDecreasing(t *testing.T) {
	l := New(nil)
	t0 := time.Unix(2000, 0)
	l.MarkSent(SafetyShutdown, t0)
	l.MarkSent(SafetyShutdown, t0.Add(-5*time.Second)) // stale write, must be ignored

	d := l.Allow(SafetyShutdown, t0.Add(1*time.Second))
	assert.False(t, d.Allowed, "ledger must not have moved backwards")
}

func TestCustomCooldownsOverrideDefaults(t *testing.T) {
	l := New(map[Kind]time.Duration{SafetyShutdown: 5 * time.Second})
	t0 := time.Unix(3000, 0)
	l.MarkSent(SafetyShutdown, t0)

	d := l.Allow(SafetyShutdown, t0.Add(6*time.Second))
	assert.True(t, d.Allowed)
}
