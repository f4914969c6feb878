// Package sched owns the shared recurring-job machinery. Jobs are registered
// as fixed intervals on a single cron instance; firings are funneled through
// a bounded queue into a small worker pool so a slow job never stalls the
// timer wheel.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tornwatch/pkg/logx"
)

var ErrNotStarted = errors.New("scheduler not started")

type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	HistorySize    int
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type Snapshot struct {
	Entries  int
	QueueLen int
	History  []HistoryItem
}

type task struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	c      *cron.Cron
	queue  chan task
	stopCh chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := s.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	s.queue = make(chan task, queueSize)
	s.c = cron.New()

	for i := 0; i < workers; i++ {
		go s.worker(ctx)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.Int("queue", queueSize))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		stopCtx := s.c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		s.c = nil
	}
	s.log.Info("scheduler stopped")
}

// AddInterval schedules job every `every`, first firing one full interval
// after registration. The returned id cancels the schedule via Remove.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return 0, ErrNotStarted
	}
	if every <= 0 {
		return 0, errors.New("interval must be positive")
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	id := s.c.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.enqueue(task{name: name, timeout: timeout, run: job})
	}))
	return int(id), nil
}

// Remove cancels a schedule. An in-flight run of the job is not interrupted.
func (s *Service) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.c.Remove(cron.EntryID(id))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	entries := 0
	queueLen := 0
	if s.c != nil {
		entries = len(s.c.Entries())
	}
	if s.queue != nil {
		queueLen = len(s.queue)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{Entries: entries, QueueLen: queueLen, History: hist}
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full, dropping tick", logx.String("task", t.name))
	}
}

func (s *Service) worker(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-q:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.run(runCtx)
	}()

	item := HistoryItem{Name: t.name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("tick failed", logx.String("task", t.name), logx.Err(err))
	} else {
		s.log.Debug("tick ok", logx.String("task", t.name), logx.Duration("took", item.Duration))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if s.cfg.HistorySize > 0 && len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
