// Package schedule decides when queued events are retried.
//
// A Scheduler drains once when started, again whenever its Connectivity
// reports that a lost connection came back, and on a fixed interval while
// online. Overlapping triggers are coalesced by the driver.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/randalmurphal/abtrack/pkg/abtrack/event"
	"github.com/randalmurphal/abtrack/pkg/abtrack/observability"
)

// DefaultInterval is the retry interval.
const DefaultInterval = 10 * time.Second

// Drain triggers.
const (
	TriggerStartup  = "startup"
	TriggerRegained = "regained"
	TriggerInterval = "interval"
)

// Drainer runs one drain pass.
type Drainer interface {
	Drain(ctx context.Context) event.DrainResult
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the retry interval. Intervals under one second are
// rounded up to one second.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithConnectivity sets the connectivity source. Default: AlwaysOnline.
func WithConnectivity(c Connectivity) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.conn = c
		}
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler runs drain passes on startup, on reconnect, and on an interval.
type Scheduler struct {
	drainer  Drainer
	conn     Connectivity
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	running     bool
	cron        *cron.Cron
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates a stopped Scheduler.
func New(d Drainer, opts ...Option) *Scheduler {
	s := &Scheduler{
		drainer:  d,
		conn:     AlwaysOnline{},
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start triggers one drain, subscribes to reconnects, and schedules the
// interval job. Calling Start on a running Scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.tick(ctx) }))

	regained, unsubscribe := s.conn.Subscribe()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.drain(ctx, TriggerStartup)
	}()
	go func() {
		defer s.wg.Done()
		s.watch(ctx, regained)
	}()
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.unsubscribe = unsubscribe
	s.running = true
	return nil
}

// Stop cancels the interval job and the reconnect subscription, and waits
// for in-flight drains to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.unsubscribe()
	s.wg.Wait()

	s.running = false
	s.cron = nil
	s.cancel = nil
	s.unsubscribe = nil
}

// Running reports whether the Scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// tick is the interval job. Offline ticks are no-ops.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.conn.Online() {
		observability.LogTickSkipped(s.logger)
		return
	}
	s.drain(ctx, TriggerInterval)
}

func (s *Scheduler) watch(ctx context.Context, regained <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-regained:
			s.drain(ctx, TriggerRegained)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	if res := s.drainer.Drain(ctx); res.Coalesced {
		observability.LogDrainCoalesced(s.logger, trigger)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
