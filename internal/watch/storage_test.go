package watch

import (
	"errors"
	"testing"
)

func TestStorageStoreDuplicate(t *testing.T) {
	s := NewStorage()
	w := &Watch{kind: KindPriceBelow, name: "xanax"}
	if err := s.Store(w); err != nil {
		t.Fatalf("first store failed: %v", err)
	}
	if err := s.Store(&Watch{kind: KindPriceBelow, name: "xanax"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate store err = %v, want ErrDuplicate", err)
	}
	// Same name under a different kind is a distinct key.
	if err := s.Store(&Watch{kind: KindPriceAbove, name: "xanax"}); err != nil {
		t.Fatalf("store with different kind failed: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestStorageRemoveThenGet(t *testing.T) {
	s := NewStorage()
	if err := s.Store(&Watch{kind: KindPriceBelow, name: "xanax"}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if _, err := s.Remove(KindPriceBelow, "xanax"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := s.Get(KindPriceBelow, "xanax"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after remove err = %v, want ErrNotFound", err)
	}
	if _, err := s.Remove(KindPriceBelow, "xanax"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double remove err = %v, want ErrNotFound", err)
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind("price_below"); !ok || k != KindPriceBelow {
		t.Fatalf("ParseKind(price_below) = %v, %v", k, ok)
	}
	if k, ok := ParseKind("price_above"); !ok || k != KindPriceAbove {
		t.Fatalf("ParseKind(price_above) = %v, %v", k, ok)
	}
	if _, ok := ParseKind("price_between"); ok {
		t.Fatalf("unknown kind should not parse")
	}
}
