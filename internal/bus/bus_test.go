package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct{ n int }

func (c *countingRecorder) RecordBusOverflow() { c.n++ }

func TestFIFOOrderingPerProducer(t *testing.T) {
	b := New(8, nil, nil)
	b.Post(DoorReading{IsOpen: true})
	b.Post(DoorReading{IsOpen: false})
	b.Post(DoorReading{IsOpen: true})

	first := b.Recv().(DoorReading)
	second := b.Recv().(DoorReading)
	third := b.Recv().(DoorReading)
	assert.True(t, first.IsOpen)
	assert.False(t, second.IsOpen)
	assert.True(t, third.IsOpen)
}

func TestOverflowDropsOldestNonCritical(t *testing.T) {
	rec := &countingRecorder{}
	b := New(2, nil, rec)

	b.Post(DoorReading{IsOpen: true})  // fills slot 1
	b.Post(DoorReading{IsOpen: false}) // fills slot 2, queue now full
	b.Post(DoorReading{IsOpen: true})  // overflow: drop oldest (IsOpen:true), keep newest two

	require.Equal(t, 1, rec.n)
	first := b.Recv().(DoorReading)
	second := b.Recv().(DoorReading)
	assert.False(t, first.IsOpen)
	assert.True(t, second.IsOpen)
}

func TestCriticalEventsAreNeverDropped(t *testing.T) {
	rec := &countingRecorder{}
	b := New(1, nil, rec)

	b.Post(DoorReading{IsOpen: true}) // fills the only slot
	b.Post(PhaseReading{L1: 1, L2: 2, L3: 3})

	// The non-critical DoorReading must have been the one evicted, never
	// the critical PhaseReading.
	first := b.Recv()
	_, isPhase := first.(PhaseReading)
	assert.True(t, isPhase, "critical PhaseReading must survive overflow")
	assert.Equal(t, 1, rec.n)
}

func TestCriticalEventSurvivesQueueFullOfCriticalEvents(t *testing.T) {
	rec := &countingRecorder{}
	b := New(2, nil, rec)

	b.Post(PhaseReading{L1: 1})
	b.Post(McbObserved{State: McbOn})
	// Queue is now full of two critical entries with no non-critical victim
	// available; a third critical post must still not drop either one.
	b.Post(PhaseReading{L1: 3})

	first := b.Recv()
	second := b.Recv()
	third := b.Recv()
	assertCritical := func(e Event) {
		switch e.(type) {
		case PhaseReading, McbObserved:
		default:
			t.Fatalf("expected a critical event, got %T", e)
		}
	}
	assertCritical(first)
	assertCritical(second)
	assertCritical(third)
}

func TestNonCriticalEventDroppedWhenQueueFullOfCriticalEvents(t *testing.T) {
	rec := &countingRecorder{}
	b := New(2, nil, rec)

	b.Post(PhaseReading{L1: 1})
	b.Post(McbObserved{State: McbOn})
	b.Post(DoorReading{IsOpen: true}) // no non-critical victim, and this isn't critical: dropped

	first := b.Recv().(PhaseReading)
	second := b.Recv().(McbObserved)
	assert.Equal(t, 1.0, first.L1)
	assert.Equal(t, McbOn, second.State)
	assert.Equal(t, 1, rec.n)
}

func TestTimerFiredDispatchedViaPostTimerFired(t *testing.T) {
	b := New(4, nil, nil)
	b.PostTimerFired("abc")
	ev := b.Recv().(TimerFired)
	assert.Equal(t, "abc", ev.ID)
}
