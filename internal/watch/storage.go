package watch

import "errors"

var (
	ErrDuplicate = errors.New("notification already exists")
	ErrNotFound  = errors.New("notification does not exist")
)

// Key identifies a notification within one user's storage.
type Key struct {
	Kind Kind
	Name string
}

// Storage holds one user's notifications in a flat composite-key map.
//
// Storage is not safe for concurrent use on its own; the Registry serializes
// all access.
type Storage struct {
	items map[Key]*Watch
}

func NewStorage() *Storage {
	return &Storage{items: map[Key]*Watch{}}
}

// Store inserts w, failing with ErrDuplicate if a notification with the same
// kind and name is already stored.
func (s *Storage) Store(w *Watch) error {
	k := w.Key()
	if _, ok := s.items[k]; ok {
		return ErrDuplicate
	}
	s.items[k] = w
	return nil
}

// Remove deletes and returns the notification with the given kind and name,
// failing with ErrNotFound if absent.
func (s *Storage) Remove(kind Kind, name string) (*Watch, error) {
	k := Key{Kind: kind, Name: name}
	w, ok := s.items[k]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.items, k)
	return w, nil
}

// Get returns the stored notification without transferring ownership.
func (s *Storage) Get(kind Kind, name string) (*Watch, error) {
	w, ok := s.items[Key{Kind: kind, Name: name}]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

// All returns the stored notifications in unspecified order.
func (s *Storage) All() []*Watch {
	out := make([]*Watch, 0, len(s.items))
	for _, w := range s.items {
		out = append(out, w)
	}
	return out
}

func (s *Storage) Len() int { return len(s.items) }
