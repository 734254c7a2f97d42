package localdevice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
	"github.com/samsamfire/saunasupervisor/internal/bus"
	"github.com/samsamfire/saunasupervisor/internal/clockwork"
)

// Poster is the narrow surface the poller needs from the event bus.
type Poster interface {
	Post(e bus.Event)
}

// McbPoller periodically re-reads the MCB's on/off state directly from the
// device and posts it as an authoritative bus.McbObserved{Source:"device"}
// observation, mirroring floorheat.Controller's own poll/HandleTimer shape.
// Besides the periodic tick, it fires one poll immediately in the
// background on construction, so a freshly dialled device surfaces its
// state without waiting out a full pollEvery first.
type McbPoller struct {
	client    *Client
	clock     *clockwork.Clock
	poster    Poster
	logger    *slog.Logger
	pollEvery time.Duration

	mu         sync.Mutex
	pollHandle *clockwork.Handle
}

func NewMcbPoller(client *Client, clock *clockwork.Clock, poster Poster, logger *slog.Logger, pollEvery time.Duration) *McbPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if pollEvery <= 0 {
		pollEvery = 5 * time.Second
	}
	p := &McbPoller{
		client:    client,
		clock:     clock,
		poster:    poster,
		logger:    logger.With("service", "[MCBPOLL]"),
		pollEvery: pollEvery,
	}
	handle := clock.Every(pollEvery)
	p.pollHandle = &handle
	go p.refresh(context.Background())
	return p
}

// HandleTimer refreshes MCB state if id belongs to this poller's timer;
// other ids are ignored.
func (p *McbPoller) HandleTimer(ctx context.Context, id string) {
	p.mu.Lock()
	owns := p.pollHandle != nil && p.pollHandle.ID() == id && p.clock.Valid(id, *p.pollHandle)
	p.mu.Unlock()
	if !owns {
		return
	}
	p.refresh(ctx)
}

func (p *McbPoller) refresh(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, adapters.McbCommandTimeout)
	defer cancel()
	on, err := p.client.McbStatus(callCtx)
	if err != nil {
		p.logger.Warn("status poll failed", "err", err)
		return
	}
	state := bus.McbOff
	if on {
		state = bus.McbOn
	}
	p.poster.Post(bus.McbObserved{State: state, Source: "device"})
}

// Stop cancels the periodic poll timer.
func (p *McbPoller) Stop() {
	p.mu.Lock()
	handle := p.pollHandle
	p.pollHandle = nil
	p.mu.Unlock()
	if handle != nil {
		p.clock.Cancel(*handle)
	}
}
