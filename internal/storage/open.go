// Package storage persists the delivered-alert log. Watches themselves are
// in-memory only; this log exists for the /history command and operator
// forensics.
package storage

import (
	"context"
	"errors"
	"strings"

	"tornwatch/pkg/logx"
)

// Store is the minimal persistence API used by the app.
type Store interface {
	AppendAlert(ctx context.Context, e AlertEntry) error
	RecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
