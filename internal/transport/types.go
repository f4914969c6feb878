package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdatePresence UpdateKind = "presence"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Presence *Presence
}

type Message struct {
	ID       int
	ChatID   int64
	FromID   int64
	FromName string // display identity of the sender (username or first name)
	Text     string
	IsGroup  bool
}

// PresenceKind mirrors the classic chat presence events. Telegram only emits
// a subset natively; the adapter synthesizes the rest where it can.
type PresenceKind string

const (
	PresencePart PresenceKind = "part" // user left the chat on their own
	PresenceQuit PresenceKind = "quit" // user became unreachable (blocked/deactivated)
	PresenceKick PresenceKind = "kick" // user was removed by someone else
	PresenceNick PresenceKind = "nick" // sender's display identity changed
)

type Presence struct {
	Kind    PresenceKind
	ChatID  int64
	UserID  int64
	Name    string
	NewName string // only for PresenceNick
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
