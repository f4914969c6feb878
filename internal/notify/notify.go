// Package notify is the outbound alert sink: one filter firing becomes at
// most one delivered chat message.
package notify

import (
	"context"

	"tornwatch/internal/eventbus"
	"tornwatch/internal/transport"
	"tornwatch/pkg/logx"
)

// Alert is one outbound price alert plus the metadata the alert log keeps.
type Alert struct {
	Target transport.ChatTarget
	User   string
	Kind   string
	Name   string
	Text   string
}

type Service struct {
	adapter transport.Adapter
	log     logx.Logger
	bus     eventbus.Bus
}

func New(adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{adapter: adapter, log: log, bus: bus}
}

// Deliver sends the alert to its chat. Delivery failures are reported to the
// caller and logged; no buffering, no retries.
func (s *Service) Deliver(ctx context.Context, a Alert) error {
	_, err := s.adapter.SendText(ctx, a.Target, a.Text, &transport.SendOptions{DisablePreview: true})
	if err != nil {
		s.log.Warn("alert delivery failed",
			logx.Int64("chat_id", a.Target.ChatID),
			logx.String("watch", a.Name),
			logx.Err(err))
		return err
	}
	s.log.Debug("alert delivered",
		logx.Int64("chat_id", a.Target.ChatID),
		logx.String("watch", a.Name))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventAlertSent, Data: a})
	}
	return nil
}
