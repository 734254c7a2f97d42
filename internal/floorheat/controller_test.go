package floorheat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
	"github.com/samsamfire/saunasupervisor/internal/clockwork"
)

type fakeThermostat struct {
	mu      sync.Mutex
	mode    adapters.ThermostatMode
	target  float64
	status  adapters.ThermostatStatus
}

func (f *fakeThermostat) SetMode(ctx context.Context, mode adapters.ThermostatMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return nil
}

func (f *fakeThermostat) SetTargetC(ctx context.Context, celsius float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = celsius
	return nil
}

func (f *fakeThermostat) Status(ctx context.Context) (adapters.ThermostatStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

type fakeSink struct {
	mu  sync.Mutex
	ids []string
}

func (s *fakeSink) PostTimerFired(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
}

func (s *fakeSink) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.ids
	s.ids = nil
	return out
}

func TestOnSaunaOnSetsManualAndTempOn(t *testing.T) {
	therm := &fakeThermostat{}
	clock := clockwork.New(&fakeSink{})
	c := New(therm, clock, nil, 21, 5, time.Hour)
	defer c.Stop()

	require.NoError(t, c.OnSaunaOn(context.Background()))
	assert.Equal(t, adapters.ModeManual, therm.mode)
	assert.Equal(t, 21.0, therm.target)
}

func TestOnSaunaOffSetsManualAndTempOff(t *testing.T) {
	therm := &fakeThermostat{}
	clock := clockwork.New(&fakeSink{})
	c := New(therm, clock, nil, 21, 5, time.Hour)
	defer c.Stop()

	require.NoError(t, c.OnSaunaOff(context.Background()))
	assert.Equal(t, adapters.ModeManual, therm.mode)
	assert.Equal(t, 5.0, therm.target)
}

func TestPeriodicPollRefreshesState(t *testing.T) {
	therm := &fakeThermostat{status: adapters.ThermostatStatus{
		Mode: adapters.ModeManual, Action: "heating", TargetC: 21, CurrentC: 19,
	}}
	sink := &fakeSink{}
	clock := clockwork.New(sink)

	c := New(therm, clock, nil, 21, 5, 10*time.Millisecond)
	defer c.Stop()

	require.Eventually(t, func() bool {
		for _, id := range sink.drain() {
			c.HandleTimer(context.Background(), id)
		}
		return c.GetState().Mode != ""
	}, time.Second, time.Millisecond)

	state := c.GetState()
	assert.Equal(t, "manual", state.Mode)
	assert.Equal(t, "heating", state.Action)
}

func TestStopCancelsPolling(t *testing.T) {
	therm := &fakeThermostat{}
	sink := &fakeSink{}
	clock := clockwork.New(sink)
	c := New(therm, clock, nil, 21, 5, 10*time.Millisecond)
	c.Stop()

	time.Sleep(30 * time.Millisecond)
	for _, id := range sink.drain() {
		c.HandleTimer(context.Background(), id) // must be ignored, handle cleared
	}
	assert.Equal(t, State{}, c.GetState())
}
