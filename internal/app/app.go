// Package app wires the services together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tornwatch/internal/config"
	"tornwatch/internal/eventbus"
	"tornwatch/internal/notify"
	rtsup "tornwatch/internal/runtime/supervisor"
	"tornwatch/internal/sched"
	"tornwatch/internal/storage"
	"tornwatch/internal/torn"
	kit "tornwatch/internal/transport"
	telegram "tornwatch/internal/transport/telegram"
	"tornwatch/internal/watch"
	"tornwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	sched   *sched.Service
	torn    *torn.Client
	alerts  *notify.Service
	reg     *watch.Registry
	disp    *dispatcher

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseFieldOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies its config immediately. Bootstrap with the Telegram
	// sink disabled, set the target, then Apply the final config, so the
	// first Apply cannot warn about a missing target.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if chatID, ok := parseGroupLog(cfg.Telegram.GroupLog); ok {
		logSvc.SetTelegramTarget(chatID)
	}
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	busyTimeout, err := config.ParseFieldOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("alert log enabled", logx.String("driver", cfg.Storage.Driver))
	}

	fetchTimeout, err := config.ParseFieldOrDefault("poller.fetch_timeout", cfg.Poller.FetchTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	schedSvc := sched.New(sched.Config{
		Workers:        cfg.Poller.Workers,
		QueueSize:      cfg.Poller.QueueSize,
		DefaultTimeout: fetchTimeout,
		HistorySize:    cfg.Poller.HistorySize,
	}, log.With(logx.String("comp", "sched")))

	tornTimeout, err := config.ParseFieldOrDefault("torn.timeout", cfg.Torn.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	tornClient := torn.NewClient(torn.Config{
		BaseURL:    cfg.Torn.BaseURL,
		RatePerSec: cfg.Torn.RatePerSec,
		RetryMax:   cfg.Torn.RetryMax,
		Timeout:    tornTimeout,
	}, log.With(logx.String("comp", "torn")))

	alerts := notify.New(ad, log.With(logx.String("comp", "notify")), bus)

	reg := watch.NewRegistry(watch.Deps{
		Fetcher:      tornClient,
		Sched:        schedSvc,
		Alerts:       alerts,
		Bus:          bus,
		Log:          log.With(logx.String("comp", "watch")),
		FetchTimeout: fetchTimeout,
	})

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   schedSvc,
		torn:    tornClient,
		alerts:  alerts,
		reg:     reg,
		updates: make(chan kit.Update, 256),
	}
	a.disp = newDispatcher(a)
	return a, nil
}

func parseGroupLog(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if cfg.Poller.Workers < 0 {
			return fmt.Errorf("poller.workers must be >= 0")
		}
		if cfg.Poller.QueueSize < 0 {
			return fmt.Errorf("poller.queue_size must be >= 0")
		}
		if cfg.Poller.HistorySize < 0 {
			return fmt.Errorf("poller.history_size must be >= 0")
		}
		if cfg.Torn.RatePerSec < 0 {
			return fmt.Errorf("torn.rate_per_sec must be >= 0")
		}
		if cfg.Torn.RetryMax < 0 {
			return fmt.Errorf("torn.retry_max must be >= 0")
		}
		if _, err := config.ParseFieldOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
			return err
		}
		if _, err := config.ParseFieldOrDefault("poller.fetch_timeout", cfg.Poller.FetchTimeout, 0); err != nil {
			return err
		}
		if _, err := config.ParseFieldOrDefault("torn.timeout", cfg.Torn.Timeout, 0); err != nil {
			return err
		}
		if _, err := config.ParseFieldOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
			return err
		}
		switch cfg.Storage.Driver {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.Loop(c, a.updates)
	})

	// Persist delivered alerts so /history works across restarts.
	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("alerts.persist", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if e.Type != eventbus.EventAlertSent {
						continue
					}
					al, ok := e.Data.(notify.Alert)
					if !ok {
						continue
					}
					entry := storage.AlertEntry{
						At:     e.Time,
						ChatID: al.Target.ChatID,
						User:   al.User,
						Kind:   al.Kind,
						Name:   al.Name,
						Text:   al.Text,
					}
					if err := a.store.AppendAlert(c, entry); err != nil {
						a.log.Warn("alert persist failed", logx.Err(err))
					}
				}
			}
		})
	}

	// Hot reload fan-out: logging is the only section applied live; the rest
	// needs a restart and says so.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				if chatID, ok := parseGroupLog(newCfg.Telegram.GroupLog); ok {
					a.logs.SetTelegramTarget(chatID)
				} else {
					a.logs.SetTelegramTarget(0)
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
					Telegram: logx.TelegramConfig{
						Enabled:    newCfg.Logging.Telegram.Enabled,
						MinLevel:   newCfg.Logging.Telegram.MinLevel,
						RatePerSec: newCfg.Logging.Telegram.RatePerSec,
					},
				})
				a.log.Info("config reloaded; logging applied, other sections need a restart")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("watches", 2*time.Second, func(context.Context) error { a.reg.StopAll(); return nil })
	step("sched", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
