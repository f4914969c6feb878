package watch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tornwatch/internal/eventbus"
	"tornwatch/internal/transport"
	"tornwatch/pkg/logx"
)

// Registry owns every user's notification storage and runs the command
// surface on top of it. Storages are created lazily on a user's first notify
// and kept for the process lifetime, so pause and resume survive an empty
// list. All mutation goes through the registry mutex; the per-user Storage is
// not locked on its own.
type Registry struct {
	mu    sync.Mutex
	users map[string]*Storage
	deps  Deps
	log   logx.Logger
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		users: make(map[string]*Storage),
		deps:  deps,
		log:   deps.Log.With(logx.String("component", "registry")),
	}
}

func (r *Registry) storageFor(user string) *Storage {
	s, ok := r.users[user]
	if !ok {
		s = NewStorage()
		r.users[user] = s
	}
	return s
}

// Notify handles `/notify <kind> <args...>`. On success the watch is stored
// and started; a watch that fails to start is rolled back out of storage so
// the duplicate check stays honest.
func (r *Registry) Notify(user string, chat transport.ChatTarget, args []string) string {
	if len(args) == 0 {
		return "Recognized notify_types are " + KindNames()
	}
	kind, ok := ParseKind(args[0])
	if !ok {
		return "Recognized notify_types are " + KindNames()
	}

	w, err := New(kind, args[1:], user, chat, r.deps)
	if err != nil {
		return err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	store := r.storageFor(user)
	if err := store.Store(w); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return fmt.Sprintf("Notification of type %s and name %s already exists.", w.Kind(), w.Name())
		}
		return err.Error()
	}
	if _, err := w.Start(); err != nil {
		store.Remove(w.Kind(), w.Name())
		r.log.Warn("watch start failed",
			logx.String("user", user),
			logx.String("watch", w.Label()),
			logx.Err(err))
		return "Notification could not be started."
	}
	return "Notification started: " + w.Label()
}

// Remove handles `/remove <kind> <name>`. The watch is stopped before it is
// dropped so its poller cannot fire afterwards.
func (r *Registry) Remove(user string, kind Kind, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.users[user]
	if !ok {
		return fmt.Sprintf("Notification of type %s and name %s does not exist.", kind, name)
	}
	w, err := store.Remove(kind, name)
	if err != nil {
		return fmt.Sprintf("Notification of type %s and name %s does not exist.", kind, name)
	}
	w.Stop()
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(eventbus.Event{Type: eventbus.EventWatchRemoved, Data: w.Label()})
	}
	return fmt.Sprintf("Notification removed: %s", w.Label())
}

// Pause stops every running watch the user has. Already-paused watches are
// left alone and produce no extra confirmation.
func (r *Registry) Pause(user string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseUserLocked(user, "Pausing notifications.")
}

func (r *Registry) pauseUserLocked(user, header string) []string {
	store, ok := r.users[user]
	if !ok || store.Len() == 0 {
		return []string{"You do not have any stored notifications!"}
	}
	out := []string{header}
	for _, w := range sortedWatches(store) {
		if w.Stop() {
			out = append(out, "Notification stopped: "+w.Label())
		}
	}
	return out
}

// Resume restarts every paused watch the user has.
func (r *Registry) Resume(user string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.users[user]
	if !ok || store.Len() == 0 {
		return []string{"You do not have any stored notifications!"}
	}
	out := []string{"Resuming notifications."}
	for _, w := range sortedWatches(store) {
		changed, err := w.Start()
		if err != nil {
			r.log.Warn("watch restart failed",
				logx.String("user", user),
				logx.String("watch", w.Label()),
				logx.Err(err))
			continue
		}
		if changed {
			out = append(out, "Notification started: "+w.Label())
		}
	}
	return out
}

// List renders the user's stored watches, running or not, as one message.
func (r *Registry) List(user string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.users[user]
	if !ok || store.Len() == 0 {
		return "You currently have zero notifications."
	}
	lines := make([]string, 0, store.Len())
	for _, w := range sortedWatches(store) {
		state := "paused"
		if w.Running() {
			state = "running"
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", w.Label(), w.Description(), state))
	}
	return strings.Join(lines, "\n")
}

// HandlePresence reacts to chat membership changes. A user leaving or
// quitting pauses their watches; kicks and nick changes are observed but do
// not touch state.
func (r *Registry) HandlePresence(p transport.Presence) []string {
	switch p.Kind {
	case transport.PresencePart, transport.PresenceQuit:
		r.mu.Lock()
		defer r.mu.Unlock()
		if store, ok := r.users[p.Name]; ok && store.Len() > 0 {
			return r.pauseUserLocked(p.Name, "Pausing notifications.")
		}
		return nil
	case transport.PresenceKick:
		r.log.Debug("user kicked, watches untouched", logx.String("user", p.Name))
	case transport.PresenceNick:
		r.log.Debug("user renamed, watches keyed by old name",
			logx.String("old", p.Name), logx.String("new", p.NewName))
	}
	return nil
}

// StopAll stops every watch across every user. Used at shutdown; no
// confirmations are sent.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, store := range r.users {
		for _, w := range store.All() {
			w.Stop()
		}
	}
}

// UserStats is one row of the /status summary.
type UserStats struct {
	User    string
	Total   int
	Running int
}

// Snapshot reports per-user watch counts, sorted by user name.
func (r *Registry) Snapshot() []UserStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]UserStats, 0, len(r.users))
	for user, store := range r.users {
		st := UserStats{User: user, Total: store.Len()}
		for _, w := range store.All() {
			if w.Running() {
				st.Running++
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

func sortedWatches(store *Storage) []*Watch {
	ws := store.All()
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Kind() != ws[j].Kind() {
			return ws[i].Kind() < ws[j].Kind()
		}
		return ws[i].Name() < ws[j].Name()
	})
	return ws
}
