package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tornwatch/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.db")
	s, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteAppendAndRead(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := AlertEntry{
			At:     at.Add(time.Duration(i) * time.Minute),
			ChatID: 7,
			User:   "duke",
			Kind:   "price_above",
			Name:   fmt.Sprintf("item-%d", i),
			Text:   "Time to sell!",
		}
		if err := s.AppendAlert(ctx, e); err != nil {
			t.Fatalf("AppendAlert failed: %v", err)
		}
	}

	got, err := s.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// oldest first, like the file driver
	if got[0].Name != "item-0" || got[2].Name != "item-2" {
		t.Fatalf("order wrong: %q, %q", got[0].Name, got[2].Name)
	}
	if !got[1].At.Equal(at.Add(time.Minute)) {
		t.Fatalf("timestamp not preserved: %v", got[1].At)
	}
	if got[0].ChatID != 7 || got[0].User != "duke" {
		t.Fatalf("row = %+v", got[0])
	}
}

func TestSQLiteLimit(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := s.AppendAlert(ctx, AlertEntry{Name: fmt.Sprintf("item-%d", i), Kind: "price_below"}); err != nil {
			t.Fatalf("AppendAlert failed: %v", err)
		}
	}
	got, err := s.RecentAlerts(ctx, 5)
	if err != nil {
		t.Fatalf("RecentAlerts failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].Name != "item-15" || got[4].Name != "item-19" {
		t.Fatalf("window wrong: %q .. %q", got[0].Name, got[4].Name)
	}
}

func TestSQLiteMigrationIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	cfg := Config{Driver: "sqlite", Path: path}

	s1, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := s1.AppendAlert(context.Background(), AlertEntry{Name: "keep", Kind: "price_below"}); err != nil {
		t.Fatalf("AppendAlert failed: %v", err)
	}
	s1.Close()

	// Reopening the same file must keep existing rows.
	s2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	got, err := s2.RecentAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentAlerts failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "keep" {
		t.Fatalf("got = %+v", got)
	}
}
