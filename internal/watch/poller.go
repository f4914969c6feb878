package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tornwatch/internal/eventbus"
	"tornwatch/internal/torn"
	"tornwatch/pkg/logx"
)

// Scheduler is the slice of the shared scheduler the poller needs.
type Scheduler interface {
	AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (int, error)
	Remove(id int)
}

// Poller drives the periodic fetch-and-filter cycle for one watch.
//
// A poller instance goes Idle -> Scheduled -> stopped and is never reused;
// resuming a watch builds a fresh one. Per-tick failures are logged and
// recorded but never tear down the schedule.
type Poller struct {
	name    string
	every   time.Duration
	timeout time.Duration
	fetch   func(ctx context.Context) (torn.Listing, error)
	sched   Scheduler
	bus     eventbus.Bus
	log     logx.Logger

	mu    sync.Mutex
	state pollerState
	entry int

	// cancelled suppresses delivery of a tick that was already in flight
	// when StopPolling ran.
	cancelled atomic.Bool
	// inflight skips a tick when the previous one has not finished, so two
	// ticks of the same watch never overlap.
	inflight atomic.Bool
}

type pollerState int

const (
	pollerIdle pollerState = iota
	pollerScheduled
	pollerStopped
)

func newPoller(name string, every, timeout time.Duration,
	fetch func(ctx context.Context) (torn.Listing, error),
	sched Scheduler, bus eventbus.Bus, log logx.Logger) *Poller {
	return &Poller{
		name:    name,
		every:   every,
		timeout: timeout,
		fetch:   fetch,
		sched:   sched,
		bus:     bus,
		log:     log,
	}
}

// StartPolling registers the recurring tick. The first tick fires one full
// interval after registration.
func (p *Poller) StartPolling(f Filter, deliver func(ctx context.Context, text string) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != pollerIdle {
		return errors.New("poller already started")
	}

	id, err := p.sched.AddInterval(p.name, p.every, p.timeout, func(ctx context.Context) error {
		return p.tick(ctx, f, deliver)
	})
	if err != nil {
		return err
	}
	p.entry = id
	p.state = pollerScheduled
	p.log.Info("polling started", logx.String("watch", p.name), logx.Duration("every", p.every))
	return nil
}

func (p *Poller) tick(ctx context.Context, f Filter, deliver func(ctx context.Context, text string) error) error {
	if p.cancelled.Load() {
		return nil
	}
	if !p.inflight.CompareAndSwap(false, true) {
		p.log.Debug("tick still in flight, skipping", logx.String("watch", p.name))
		return nil
	}
	defer p.inflight.Store(false)

	l, err := p.fetch(ctx)
	if err != nil {
		// Transient failures must never kill a standing watch: log, record,
		// and let the next tick proceed.
		p.log.Warn("poll failed", logx.String("watch", p.name), logx.Err(err))
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: eventbus.EventPollFailed, Data: p.name})
		}
		return err
	}

	text, fire := f.Consume(l)
	if !fire {
		return nil
	}
	if p.cancelled.Load() {
		// stopped while the fetch was in flight; drop the result
		return nil
	}
	return deliver(ctx, text)
}

// StopPolling cancels future ticks. An in-flight tick may complete, but its
// result is dropped.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	if p.state != pollerScheduled {
		p.mu.Unlock()
		return
	}
	p.state = pollerStopped
	entry := p.entry
	p.mu.Unlock()

	p.cancelled.Store(true)
	p.sched.Remove(entry)
	p.log.Info("polling stopped", logx.String("watch", p.name))
}
