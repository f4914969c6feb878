// Package watch implements the notification lifecycle engine: per-user
// storage of price watches, the start/pause/resume/remove state machine, the
// periodic polling that drives each watch, and the filters that turn a
// fetched listing into an optional chat message.
package watch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tornwatch/internal/eventbus"
	"tornwatch/internal/torn"
	"tornwatch/internal/transport"
	"tornwatch/pkg/logx"
)

// Fetcher is the price source. Implemented by torn.Client.
type Fetcher interface {
	MarketListing(ctx context.Context, itemID int64, apiKey string) (torn.Listing, error)
}

// Deps carries the collaborators a watch needs to run. The registry owns one
// Deps value and threads it into every constructed watch.
type Deps struct {
	Fetcher      Fetcher
	Sched        Scheduler
	Alerts       AlertSink
	Bus          eventbus.Bus
	Log          logx.Logger
	FetchTimeout time.Duration
}

// SyntaxError reports malformed `notify` arguments along with the usage line
// for the attempted variant.
type SyntaxError struct {
	Kind Kind
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Syntax: /notify %s <item_id> <item_name> <price> <interval_minutes> <api_key>", e.Kind)
}

// Watch is one standing price notification. Exactly one Poller is scheduled
// per running watch; Start and Stop are idempotent, guarded by the running
// flag.
type Watch struct {
	kind      Kind
	name      string
	itemID    int64
	threshold int64
	interval  time.Duration
	apiKey    string
	user      string
	chat      transport.ChatTarget

	deps Deps

	mu      sync.Mutex
	poller  *Poller
	running bool
}

// New parses the positional arguments of a notify command:
// item_id, item_name, price, interval_minutes, api_key.
func New(kind Kind, args []string, user string, chat transport.ChatTarget, deps Deps) (*Watch, error) {
	if len(args) < 5 {
		return nil, &SyntaxError{Kind: kind}
	}

	itemID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, &SyntaxError{Kind: kind}
	}
	name := args[1]
	threshold, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return nil, &SyntaxError{Kind: kind}
	}
	minutes, err := strconv.ParseFloat(args[3], 64)
	if err != nil || minutes <= 0 {
		return nil, &SyntaxError{Kind: kind}
	}
	apiKey := strings.TrimSpace(args[4])
	if apiKey == "" {
		return nil, &SyntaxError{Kind: kind}
	}

	return &Watch{
		kind:      kind,
		name:      name,
		itemID:    itemID,
		threshold: threshold,
		interval:  time.Duration(minutes * float64(time.Minute)),
		apiKey:    apiKey,
		user:      user,
		chat:      chat,
		deps:      deps,
	}, nil
}

func (w *Watch) Kind() Kind   { return w.kind }
func (w *Watch) Name() string { return w.name }
func (w *Watch) Key() Key     { return Key{Kind: w.kind, Name: w.name} }

func (w *Watch) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Label renders the "[<type> <name>]" tag used in user-facing messages.
func (w *Watch) Label() string {
	return fmt.Sprintf("[%s %s]", w.kind, w.name)
}

// Description is the /list line body.
func (w *Watch) Description() string {
	dir := "below"
	if w.kind == KindPriceAbove {
		dir = "above"
	}
	return fmt.Sprintf("Notification in %d for %s (ID %d) price %s %d",
		w.chat.ChatID, w.name, w.itemID, dir, w.threshold)
}

func (w *Watch) filter() Filter {
	switch w.kind {
	case KindPriceAbove:
		return HighPriceFilter{Threshold: w.threshold, ItemName: w.name}
	default:
		return LowPriceFilter{Threshold: w.threshold, ItemName: w.name, ItemID: w.itemID}
	}
}

// Start builds and activates a fresh poller bound to this watch's filter and
// notifier. It reports whether the state actually changed; starting an
// already-running watch is a safe no-op.
func (w *Watch) Start() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false, nil
	}

	notifier := Notifier{
		sink:   w.deps.Alerts,
		target: w.chat,
		user:   w.user,
		kind:   w.kind,
		name:   w.name,
	}
	p := newPoller(
		fmt.Sprintf("watch:%s:%s:%s", w.user, w.kind, w.name),
		w.interval,
		w.deps.FetchTimeout,
		func(ctx context.Context) (torn.Listing, error) {
			return w.deps.Fetcher.MarketListing(ctx, w.itemID, w.apiKey)
		},
		w.deps.Sched,
		w.deps.Bus,
		w.deps.Log,
	)
	if err := p.StartPolling(w.filter(), notifier.Consume); err != nil {
		return false, err
	}

	w.poller = p
	w.running = true
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(eventbus.Event{Type: eventbus.EventWatchStarted, Data: w.Label()})
	}
	return true, nil
}

// Stop deactivates and releases the poller. It reports whether the state
// actually changed; stopping a paused watch is a safe no-op.
func (w *Watch) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return false
	}
	w.poller.StopPolling()
	w.poller = nil
	w.running = false
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(eventbus.Event{Type: eventbus.EventWatchStopped, Data: w.Label()})
	}
	return true
}
