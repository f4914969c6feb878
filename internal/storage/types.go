package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the alert log backend.
//
// Driver values:
//   - "file": dependency-free JSON Lines file
//   - "sqlite": SQLite database file
//
// Empty or "none" disables storage entirely.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AlertEntry is one delivered price alert. Keep it compact and
// schema-stable.
type AlertEntry struct {
	At     time.Time `json:"at"`
	ChatID int64     `json:"chat_id"`
	User   string    `json:"user"`
	Kind   string    `json:"kind"`
	Name   string    `json:"name"`
	Text   string    `json:"text"`
}
