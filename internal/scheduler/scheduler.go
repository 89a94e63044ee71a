package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs tickFn once on Start and then on every interval until Stop.
// Ticks run one at a time on a single goroutine, so a slow tick delays the
// next one instead of overlapping it. A panicking tick is logged and the
// loop keeps going.
type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)
	log      *slog.Logger

	running atomic.Bool
	ticks   atomic.Int64
	lastRun atomic.Int64 // unix nanos, 0 if never

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Status struct {
	Name     string     `json:"name"`
	Running  bool       `json:"running"`
	Interval string     `json:"interval"`
	Ticks    int64      `json:"ticks"`
	LastRun  *time.Time `json:"lastRun,omitempty"`
}

func New(name string, interval time.Duration, tickFn func(context.Context), logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		log:      logger.With("scheduler", name),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the tick context and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Name:     s.name,
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Ticks:    s.ticks.Load(),
	}
	if ns := s.lastRun.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		st.LastRun = &t
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	s.lastRun.Store(start.UnixNano())
	s.ticks.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panic recovered", "panic", r)
		}
	}()

	s.tickFn(ctx)
	s.log.Debug("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
