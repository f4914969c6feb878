package notify

import (
	"context"
	"errors"
	"testing"

	"tornwatch/internal/eventbus"
	"tornwatch/internal/transport"
	"tornwatch/pkg/logx"
)

type stubAdapter struct {
	err  error
	sent []string
}

func (s *stubAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (s *stubAdapter) Stop(context.Context) error                          { return nil }
func (s *stubAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if s.err != nil {
		return transport.MessageRef{}, s.err
	}
	s.sent = append(s.sent, text)
	return transport.MessageRef{}, nil
}

func TestDeliverPublishesEvent(t *testing.T) {
	ad := &stubAdapter{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(ad, logx.Nop(), bus)
	a := Alert{Target: transport.ChatTarget{ChatID: 7}, User: "duke", Kind: "price_below", Name: "Xanax", Text: "cheap!"}
	if err := svc.Deliver(context.Background(), a); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(ad.sent) != 1 || ad.sent[0] != "cheap!" {
		t.Fatalf("sent = %v", ad.sent)
	}

	e := <-events
	if e.Type != eventbus.EventAlertSent {
		t.Fatalf("event type = %q", e.Type)
	}
	if got, ok := e.Data.(Alert); !ok || got != a {
		t.Fatalf("event data = %+v", e.Data)
	}
}

func TestDeliverFailureReturnsErrorWithoutEvent(t *testing.T) {
	boom := errors.New("telegram down")
	ad := &stubAdapter{err: boom}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(ad, logx.Nop(), bus)
	err := svc.Deliver(context.Background(), Alert{Target: transport.ChatTarget{ChatID: 7}})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v for a failed delivery", e)
	default:
	}
}
