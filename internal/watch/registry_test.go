package watch

import (
	"context"
	"strings"
	"testing"

	"tornwatch/internal/notify"
	"tornwatch/internal/torn"
	"tornwatch/internal/transport"
	"tornwatch/pkg/logx"
)

type fakeFetcher struct {
	listing torn.Listing
	err     error
}

func (f *fakeFetcher) MarketListing(context.Context, int64, string) (torn.Listing, error) {
	return f.listing, f.err
}

type fakeSink struct {
	alerts []notify.Alert
}

func (f *fakeSink) Deliver(_ context.Context, a notify.Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSched, *fakeSink, *fakeFetcher) {
	t.Helper()
	sched := newFakeSched()
	sink := &fakeSink{}
	fetcher := &fakeFetcher{listing: torn.Listing{Prices: []int64{500}}}
	reg := NewRegistry(Deps{
		Fetcher: fetcher,
		Sched:   sched,
		Alerts:  sink,
		Log:     logx.Nop(),
	})
	return reg, sched, sink, fetcher
}

var notifyArgs = []string{"price_below", "206", "Xanax", "830000", "5", "apikey"}

func TestRegistryNotifyStartsWatch(t *testing.T) {
	reg, sched, _, _ := newTestRegistry(t)
	chat := transport.ChatTarget{ChatID: 7}

	got := reg.Notify("duke", chat, notifyArgs)
	if got != "Notification started: [price_below Xanax]" {
		t.Fatalf("reply = %q", got)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("scheduled jobs = %d, want 1", len(sched.jobs))
	}
}

func TestRegistryNotifyUnknownKind(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	for _, args := range [][]string{nil, {"price_between", "206", "Xanax", "830000", "5", "k"}} {
		got := reg.Notify("duke", transport.ChatTarget{}, args)
		if got != "Recognized notify_types are price_below, price_above" {
			t.Fatalf("reply = %q", got)
		}
	}
}

func TestRegistryNotifyDuplicate(t *testing.T) {
	reg, sched, _, _ := newTestRegistry(t)
	chat := transport.ChatTarget{ChatID: 7}

	reg.Notify("duke", chat, notifyArgs)
	got := reg.Notify("duke", chat, notifyArgs)
	if got != "Notification of type price_below and name Xanax already exists." {
		t.Fatalf("reply = %q", got)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("duplicate notify scheduled a second poller")
	}
}

func TestRegistryUsersAreIsolated(t *testing.T) {
	reg, sched, _, _ := newTestRegistry(t)
	chat := transport.ChatTarget{ChatID: 7}

	if got := reg.Notify("duke", chat, notifyArgs); !strings.HasPrefix(got, "Notification started") {
		t.Fatalf("first user reply = %q", got)
	}
	if got := reg.Notify("earl", chat, notifyArgs); !strings.HasPrefix(got, "Notification started") {
		t.Fatalf("second user with same watch name should not clash: %q", got)
	}
	if len(sched.jobs) != 2 {
		t.Fatalf("scheduled jobs = %d, want 2", len(sched.jobs))
	}
}

func TestRegistryRemove(t *testing.T) {
	reg, sched, _, _ := newTestRegistry(t)
	chat := transport.ChatTarget{ChatID: 7}
	reg.Notify("duke", chat, notifyArgs)

	got := reg.Remove("duke", KindPriceBelow, "Xanax")
	if got != "Notification removed: [price_below Xanax]" {
		t.Fatalf("reply = %q", got)
	}
	if len(sched.jobs) != 0 {
		t.Fatalf("removed watch left a scheduled job behind")
	}
	got = reg.Remove("duke", KindPriceBelow, "Xanax")
	if got != "Notification of type price_below and name Xanax does not exist." {
		t.Fatalf("reply = %q", got)
	}
}

func TestRegistryRemoveUnknownUser(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	got := reg.Remove("nobody", KindPriceBelow, "Xanax")
	if got != "Notification of type price_below and name Xanax does not exist." {
		t.Fatalf("reply = %q", got)
	}
}

func TestRegistryPauseResume(t *testing.T) {
	reg, sched, _, _ := newTestRegistry(t)
	chat := transport.ChatTarget{ChatID: 7}
	reg.Notify("duke", chat, notifyArgs)

	lines := reg.Pause("duke")
	want := []string{"Pausing notifications.", "Notification stopped: [price_below Xanax]"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("pause lines = %v", lines)
	}
	if len(sched.jobs) != 0 {
		t.Fatalf("paused watch left a scheduled job behind")
	}

	// Pausing again changes nothing and confirms nothing beyond the header.
	lines = reg.Pause("duke")
	if len(lines) != 1 || lines[0] != "Pausing notifications." {
		t.Fatalf("second pause lines = %v", lines)
	}

	lines = reg.Resume("duke")
	want = []string{"Resuming notifications.", "Notification started: [price_below Xanax]"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("resume lines = %v", lines)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("resume did not schedule a fresh poller")
	}

	lines = reg.Resume("duke")
	if len(lines) != 1 || lines[0] != "Resuming notifications." {
		t.Fatalf("second resume lines = %v", lines)
	}
}

func TestRegistryPauseWithoutWatches(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	lines := reg.Pause("duke")
	if len(lines) != 1 || lines[0] != "You do not have any stored notifications!" {
		t.Fatalf("pause lines = %v", lines)
	}
	lines = reg.Resume("duke")
	if len(lines) != 1 || lines[0] != "You do not have any stored notifications!" {
		t.Fatalf("resume lines = %v", lines)
	}
}

func TestRegistryList(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	if got := reg.List("duke"); got != "You currently have zero notifications." {
		t.Fatalf("empty list reply = %q", got)
	}

	chat := transport.ChatTarget{ChatID: 7}
	reg.Notify("duke", chat, notifyArgs)
	reg.Pause("duke")

	got := reg.List("duke")
	if !strings.Contains(got, "[price_below Xanax]") || !strings.Contains(got, "(paused)") {
		t.Fatalf("list reply = %q", got)
	}
	// Stored watches survive a pause; the list must still show them.
	if strings.Count(got, "\n") != 0 {
		t.Fatalf("one watch should render as one line: %q", got)
	}
}

func TestRegistryPresencePausesOnPartAndQuit(t *testing.T) {
	for _, kind := range []transport.PresenceKind{transport.PresencePart, transport.PresenceQuit} {
		reg, sched, _, _ := newTestRegistry(t)
		chat := transport.ChatTarget{ChatID: 7}
		reg.Notify("duke", chat, notifyArgs)

		lines := reg.HandlePresence(transport.Presence{Kind: kind, ChatID: 7, Name: "duke"})
		if len(lines) != 2 || lines[1] != "Notification stopped: [price_below Xanax]" {
			t.Fatalf("%s lines = %v", kind, lines)
		}
		if len(sched.jobs) != 0 {
			t.Fatalf("%s left a scheduled job behind", kind)
		}
	}
}

func TestRegistryPresenceIgnoresKickAndNick(t *testing.T) {
	reg, sched, _, _ := newTestRegistry(t)
	chat := transport.ChatTarget{ChatID: 7}
	reg.Notify("duke", chat, notifyArgs)

	for _, kind := range []transport.PresenceKind{transport.PresenceKick, transport.PresenceNick} {
		if lines := reg.HandlePresence(transport.Presence{Kind: kind, Name: "duke", NewName: "duke2"}); lines != nil {
			t.Fatalf("%s lines = %v, want nil", kind, lines)
		}
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("kick or nick should not stop the watch")
	}
}

func TestRegistryPresenceUnknownUser(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	if lines := reg.HandlePresence(transport.Presence{Kind: transport.PresencePart, Name: "nobody"}); lines != nil {
		t.Fatalf("presence for unknown user produced %v", lines)
	}
}

func TestRegistryEndToEndDelivery(t *testing.T) {
	reg, sched, sink, fetcher := newTestRegistry(t)
	fetcher.listing = torn.Listing{Prices: []int64{500000}}
	chat := transport.ChatTarget{ChatID: 7}
	reg.Notify("duke", chat, notifyArgs)

	if err := sched.fire(t, 1); err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(sink.alerts))
	}
	a := sink.alerts[0]
	if a.Target != chat || a.User != "duke" || a.Kind != "price_below" || a.Name != "Xanax" {
		t.Fatalf("alert = %+v", a)
	}
	if !strings.Contains(a.Text, "500,000") {
		t.Fatalf("alert text = %q", a.Text)
	}
}

func TestRegistryStopAll(t *testing.T) {
	reg, sched, _, _ := newTestRegistry(t)
	chat := transport.ChatTarget{ChatID: 7}
	reg.Notify("duke", chat, notifyArgs)
	reg.Notify("earl", chat, notifyArgs)

	reg.StopAll()
	if len(sched.jobs) != 0 {
		t.Fatalf("StopAll left %d scheduled jobs", len(sched.jobs))
	}
	// Watches stay stored; only their pollers are gone.
	if got := reg.List("duke"); !strings.Contains(got, "(paused)") {
		t.Fatalf("list after StopAll = %q", got)
	}
}
