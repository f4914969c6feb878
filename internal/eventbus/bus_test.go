package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: EventWatchStarted, Data: "[price_below Xanax]"})

	select {
	case e := <-ch:
		if e.Type != EventWatchStarted || e.Data != "[price_below Xanax]" {
			t.Fatalf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatalf("publish should stamp the time")
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: EventPollFailed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // safe to repeat
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: EventAlertSent})
}
