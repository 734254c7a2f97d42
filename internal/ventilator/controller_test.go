package ventilator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsamfire/saunasupervisor/internal/clockwork"
)

type fakeRelay struct {
	mu    sync.Mutex
	calls []bool
	isOn  bool
	fail  bool
}

func (r *fakeRelay) Set(ctx context.Context, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return assertErr
	}
	r.calls = append(r.calls, on)
	r.isOn = on
	return nil
}

func (r *fakeRelay) Status(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isOn, nil
}

func (r *fakeRelay) offCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if !c {
			n++
		}
	}
	return n
}

var assertErr = &relayError{}

type relayError struct{}

func (e *relayError) Error() string { return "relay failure" }

// fakeSink lets the test observe TimerFired events and deliver them
// manually to the controller, exactly as the supervisor's dispatch loop
// would.
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

func TestOnMcbOnStartsKeepAliveOnce(t *testing.T) {
	relay := &fakeRelay{}
	sink := &fakeSink{}
	clock := clockwork.New(sink)
	c := New(relay, clock, nil, 50*time.Millisecond, 20*time.Millisecond)

	require.NoError(t, c.OnMcbOn(context.Background()))
	require.Eventually(t, func() bool { return len(sink.drain()) >= 1 }, time.Second, time.Millisecond)

	summary := c.GetSummary()
	assert.True(t, summary.KeepAliveActive)
	assert.True(t, summary.RelayIsOn)
}

func TestOnMcbOffSchedulesDelayedOffAndFiresOnce(t *testing.T) {
	relay := &fakeRelay{isOn: true}
	sink := &fakeSink{}
	clock := clockwork.New(sink)
	c := New(relay, clock, nil, 30*time.Millisecond, 500*time.Millisecond)
	relay.calls = append(relay.calls, true) // simulate relay observed on

	c.mu.Lock()
	on := true
	c.relayIsOn = &on
	c.mu.Unlock()

	require.NoError(t, c.OnMcbOff(context.Background()))
	assert.True(t, c.GetSummary().HasDelayedOff)

	require.Eventually(t, func() bool {
		ids := sink.drain()
		for _, id := range ids {
			c.HandleTimer(context.Background(), id)
		}
		return relay.offCount() >= 1
	}, time.Second, time.Millisecond)

	assert.False(t, c.GetSummary().HasDelayedOff)
	assert.False(t, c.GetSummary().KeepAliveActive)
}

func TestRelayObservedOffStopsKeepAliveImmediately(t *testing.T) {
	relay := &fakeRelay{isOn: false}
	sink := &fakeSink{}
	clock := clockwork.New(sink)
	c := New(relay, clock, nil, time.Second, 10*time.Millisecond)

	c.mu.Lock()
	off := false
	c.relayIsOn = &off
	c.keepAliveRunning = true
	c.mu.Unlock()

	require.NoError(t, c.OnMcbOff(context.Background()))
	assert.False(t, c.GetSummary().HasDelayedOff)
	assert.False(t, c.GetSummary().KeepAliveActive)
}

func TestReEnteringOnCancelsDelayedOff(t *testing.T) {
	relay := &fakeRelay{isOn: true}
	sink := &fakeSink{}
	clock := clockwork.New(sink)
	c := New(relay, clock, nil, 20*time.Millisecond, 500*time.Millisecond)

	c.mu.Lock()
	on := true
	c.relayIsOn = &on
	c.mu.Unlock()

	require.NoError(t, c.OnMcbOff(context.Background()))
	require.NoError(t, c.OnMcbOn(context.Background()))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, c.GetSummary().HasDelayedOff)
	assert.Equal(t, 0, relay.offCount())
}
