package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	rtsup "tornwatch/internal/runtime/supervisor"
	kit "tornwatch/internal/transport"
	"tornwatch/internal/watch"
	"tornwatch/pkg/logx"
)

const (
	commandTimeout  = 30 * time.Second
	historyDefault  = 10
	historyMax      = 50
	dispatchWorkers = 4
)

var helpText = `Commands:
/notify <type> <item_id> <item_name> <price> <interval_minutes> <api_key> - watch an item price
/remove <type> <item_name> - remove a notification
/pause - stop all your notifications
/resume - restart all your notifications
/list - show your stored notifications
/status - engine summary
/history [n] - recent alerts
Recognized notify_types are ` + watch.KindNames()

// dispatcher routes incoming updates onto a bounded worker pool. Commands are
// keyed by the sender's display name so the same person keeps their watches
// across private and group chats.
type dispatcher struct {
	app  *App
	log  logx.Logger
	jobs chan func()
}

func newDispatcher(a *App) *dispatcher {
	return &dispatcher{
		app:  a,
		log:  a.log.With(logx.String("comp", "dispatch")),
		jobs: make(chan func(), 64),
	}
}

func (d *dispatcher) Loop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	d.log.Info("dispatcher started", logx.Int("workers", dispatchWorkers))

	for i := 0; i < dispatchWorkers; i++ {
		idx := i
		sup.Go0("command.worker."+strconv.Itoa(idx), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-d.jobs:
					if !ok {
						return
					}
					// Keep workers alive through a misbehaving handler.
					func() {
						defer func() {
							if r := recover(); r != nil {
								d.log.Error("panic in command handler",
									logx.Any("panic", r),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		})
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *dispatcher) route(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		d.routeMessage(root, up.Message)
	case kit.UpdatePresence:
		d.routePresence(root, up.Presence)
	}
}

func (d *dispatcher) routePresence(root context.Context, p *kit.Presence) {
	if p == nil {
		return
	}
	lines := d.app.reg.HandlePresence(*p)
	if len(lines) == 0 {
		return
	}
	d.enqueue(root, kit.ChatTarget{ChatID: p.ChatID}, func(ctx context.Context) string {
		return strings.Join(lines, "\n")
	})
}

func (d *dispatcher) routeMessage(root context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	user := msg.FromName
	chat := kit.ChatTarget{ChatID: msg.ChatID}

	var handler func(ctx context.Context) string
	switch word {
	case "notify":
		handler = func(context.Context) string { return d.app.reg.Notify(user, chat, args) }
	case "remove":
		handler = func(context.Context) string { return d.cmdRemove(user, args) }
	case "pause":
		handler = func(context.Context) string { return strings.Join(d.app.reg.Pause(user), "\n") }
	case "resume":
		handler = func(context.Context) string { return strings.Join(d.app.reg.Resume(user), "\n") }
	case "list":
		handler = func(context.Context) string { return d.app.reg.List(user) }
	case "help":
		handler = func(context.Context) string { return helpText }
	case "status":
		handler = func(context.Context) string { return d.cmdStatus() }
	case "history":
		handler = func(ctx context.Context) string { return d.cmdHistory(ctx, args) }
	default:
		return
	}

	d.enqueue(root, chat, func(ctx context.Context) string {
		start := time.Now()
		reply := handler(ctx)
		d.log.Debug("command handled",
			logx.String("cmd", word),
			logx.String("user", user),
			logx.Duration("took", time.Since(start)))
		return reply
	})
}

// enqueue runs fn on the worker pool and sends its reply, dropping the
// command when the queue is saturated.
func (d *dispatcher) enqueue(root context.Context, chat kit.ChatTarget, fn func(ctx context.Context) string) {
	job := func() {
		ctx, cancel := context.WithTimeout(root, commandTimeout)
		defer cancel()
		reply := fn(ctx)
		if reply == "" {
			return
		}
		if _, err := d.app.adapter.SendText(ctx, chat, reply, &kit.SendOptions{DisablePreview: true}); err != nil {
			d.log.Warn("reply failed", logx.Int64("chat", chat.ChatID), logx.Err(err))
		}
	}
	select {
	case d.jobs <- job:
	default:
		d.log.Warn("command queue full, dropping", logx.Int64("chat", chat.ChatID))
	}
}

func (d *dispatcher) cmdRemove(user string, args []string) string {
	if len(args) < 2 {
		return "Syntax: /remove <notify_type> <name>"
	}
	kind, ok := watch.ParseKind(args[0])
	if !ok {
		return "Recognized notify_types are " + watch.KindNames()
	}
	return d.app.reg.Remove(user, kind, args[1])
}

func (d *dispatcher) cmdStatus() string {
	stats := d.app.reg.Snapshot()
	snap := d.app.sched.Snapshot()

	var b strings.Builder
	total, running := 0, 0
	for _, s := range stats {
		total += s.Total
		running += s.Running
	}
	fmt.Fprintf(&b, "Watches: %d running / %d stored across %d users\n", running, total, len(stats))
	for _, s := range stats {
		fmt.Fprintf(&b, "  %s: %d running / %d stored\n", s.User, s.Running, s.Total)
	}
	fmt.Fprintf(&b, "Poll queue: %d pending, %d scheduled entries", snap.QueueLen, snap.Entries)
	return b.String()
}

func (d *dispatcher) cmdHistory(ctx context.Context, args []string) string {
	if d.app.store == nil {
		return "Alert history is not enabled."
	}
	limit := historyDefault
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "Syntax: /history [n]"
		}
		if n > historyMax {
			n = historyMax
		}
		limit = n
	}
	entries, err := d.app.store.RecentAlerts(ctx, limit)
	if err != nil {
		d.log.Warn("history read failed", logx.Err(err))
		return "Could not read alert history."
	}
	if len(entries) == 0 {
		return "No alerts recorded yet."
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s [%s %s] %s",
			e.At.Format("2006-01-02 15:04"), e.Kind, e.Name, e.Text))
	}
	return strings.Join(lines, "\n")
}
