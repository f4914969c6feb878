package watch

import (
	"context"

	"tornwatch/internal/notify"
	"tornwatch/internal/transport"
)

// AlertSink delivers a produced message to its chat. Implemented by
// notify.Service.
type AlertSink interface {
	Deliver(ctx context.Context, a notify.Alert) error
}

// Notifier binds one watch to its destination chat: each filter firing
// becomes at most one delivered message.
type Notifier struct {
	sink   AlertSink
	target transport.ChatTarget
	user   string
	kind   Kind
	name   string
}

func (n Notifier) Consume(ctx context.Context, text string) error {
	return n.sink.Deliver(ctx, notify.Alert{
		Target: n.target,
		User:   n.user,
		Kind:   n.kind.String(),
		Name:   n.name,
		Text:   text,
	})
}
