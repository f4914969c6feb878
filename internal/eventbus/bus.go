// Package eventbus provides a small in-memory fanout bus used to decouple
// the watch engine from operational consumers (alert log, status output).
//
// Contract: Publish never blocks; slow subscribers drop events.
package eventbus

import (
	"sync"
	"time"
)

// Well-known event types.
const (
	EventWatchStarted = "watch.started"
	EventWatchStopped = "watch.stopped"
	EventWatchRemoved = "watch.removed"
	EventAlertSent    = "alert.sent"
	EventPollFailed   = "poll.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[uint64]chan Event
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; Unsubscribe closes channels under the
	// write lock, so a send on a closed channel cannot happen.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
