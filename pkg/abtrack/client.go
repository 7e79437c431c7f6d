package abtrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/abtrack/pkg/abtrack/assign"
	"github.com/randalmurphal/abtrack/pkg/abtrack/config"
	"github.com/randalmurphal/abtrack/pkg/abtrack/event"
	"github.com/randalmurphal/abtrack/pkg/abtrack/observability"
	"github.com/randalmurphal/abtrack/pkg/abtrack/schedule"
	"github.com/randalmurphal/abtrack/pkg/abtrack/store"
)

// Sentinel errors.
var (
	// ErrNilStore indicates New was called without a store.
	ErrNilStore = errors.New("store is required")

	// ErrNilTransport indicates New was called without a transport.
	ErrNilTransport = errors.New("transport is required")

	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("client closed")
)

// Client is the caller-facing entry point. It owns the assignment map, the
// retry queue, and the scheduler that drains it.
//
// A Client is safe for concurrent use.
type Client struct {
	assigner  *assign.Assigner
	driver    *event.Driver
	scheduler *schedule.Scheduler
	logger    *slog.Logger
	now       func() time.Time
	sessionID string

	mu       sync.Mutex
	closed   bool
	watchers []*config.Watcher
	// closers run after the scheduler stops, in order.
	closers []func() error
}

// New creates a Client over st and tr, loading any assignments and queued
// events a previous session persisted.
//
// Unreadable persisted state is logged and the client starts empty; it is
// not an error. The scheduler starts on the first Init.
func New(st store.Store, tr event.Transport, opts ...Option) (*Client, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	if tr == nil {
		return nil, ErrNilTransport
	}

	cfg := newClientConfig(opts)
	sessionID := uuid.NewString()
	logger := cfg.logger.With(slog.String("session_id", sessionID))

	assignOpts := []assign.Option{assign.WithLogger(logger)}
	if cfg.seed != nil {
		assignOpts = append(assignOpts, assign.WithSeed(*cfg.seed))
	}
	if cfg.source != nil {
		assignOpts = append(assignOpts, assign.WithSource(cfg.source))
	}
	assigner, err := assign.NewAssigner(st, assignOpts...)
	if err != nil {
		cfg.metrics.RecordPersistError(context.Background(), store.KeyAssignments)
	}

	queue, err := event.NewQueue(st)
	if err != nil {
		observability.LogPersistError(logger, store.KeyEvents, "load", err)
		cfg.metrics.RecordPersistError(context.Background(), store.KeyEvents)
	}

	driverOpts := []event.DriverOption{
		event.WithLogger(logger),
		event.WithMetrics(cfg.metrics),
		event.WithSpans(cfg.spans),
	}
	if cfg.attemptTimeout > 0 {
		driverOpts = append(driverOpts, event.WithAttemptTimeout(cfg.attemptTimeout))
	}
	driver := event.NewDriver(queue, tr, driverOpts...)

	scheduler := schedule.New(driver,
		schedule.WithInterval(cfg.retryInterval),
		schedule.WithConnectivity(cfg.conn),
		schedule.WithLogger(logger),
	)

	return &Client{
		assigner:  assigner,
		driver:    driver,
		scheduler: scheduler,
		logger:    logger,
		now:       cfg.now,
		sessionID: sessionID,
	}, nil
}

// SessionID identifies this client instance in logs.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Init assigns a variant to every experiment not yet assigned and starts the
// retry scheduler, which drains the queue once right away.
//
// Invalid experiments are skipped and a failed save is reported; both come
// back in the returned error while valid assignments still take effect.
// Calling Init again registers new experiments without touching existing
// assignments or starting a second scheduler. The scheduler outlives ctx and
// stops on Close.
func (c *Client) Init(ctx context.Context, experiments []assign.Experiment) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	assignErr := c.assigner.AssignAll(experiments)
	if err := c.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(assignErr, fmt.Errorf("start scheduler: %w", err))
	}
	return assignErr
}

// Variant returns the assigned variant for experimentID, or an
// AssignmentMissing error if Init has not seen it.
func (c *Client) Variant(experimentID string) (string, error) {
	return c.assigner.Get(experimentID)
}

// Assignments returns a copy of the assignment map.
func (c *Client) Assignments() map[string]string {
	return c.assigner.Assignments()
}

// Track delivers evt now or queues it for retry. It never fails.
func (c *Client) Track(ctx context.Context, evt event.Event) event.Outcome {
	return c.driver.Track(ctx, evt)
}

// TrackExposure records that the assigned variant of experimentID was shown.
// Nothing is tracked when experimentID has no assignment.
func (c *Client) TrackExposure(ctx context.Context, experimentID string) (event.Outcome, error) {
	return c.trackAssigned(ctx, experimentID, event.Exposure)
}

// TrackInteraction records that the session acted on the assigned variant.
func (c *Client) TrackInteraction(ctx context.Context, experimentID string) (event.Outcome, error) {
	return c.trackAssigned(ctx, experimentID, event.Interaction)
}

func (c *Client) trackAssigned(ctx context.Context, experimentID string, typ event.EventType) (event.Outcome, error) {
	variant, err := c.assigner.Get(experimentID)
	if err != nil {
		return event.OutcomeQueued, err
	}
	return c.driver.Track(ctx, event.NewEvent(experimentID, variant, typ, c.now())), nil
}

// Drain runs a drain pass now. If a pass is already running the call returns
// at once with Coalesced set and the running pass is followed by another.
func (c *Client) Drain(ctx context.Context) event.DrainResult {
	res := c.driver.Drain(ctx)
	if res.Coalesced {
		observability.LogDrainCoalesced(c.logger, "manual")
	}
	return res
}

// Pending returns the queued events in order.
func (c *Client) Pending() []event.Event {
	return c.driver.Queue().Snapshot()
}

// Purge drops every queued event.
func (c *Client) Purge() error {
	return c.driver.Queue().Purge()
}

// WatchExperiments reloads the config file at path whenever it changes and
// assigns any experiments it names that are not yet assigned.
func (c *Client) WatchExperiments(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	w, err := config.NewWatcher(path, func(s config.Settings) {
		if err := c.assigner.AssignAll(s.Experiments); err != nil {
			c.logger.Warn("reloaded experiments not fully assigned",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}, c.logger)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}
	c.watchers = append(c.watchers, w)
	return nil
}

// addCloser registers fn to run on Close.
func (c *Client) addCloser(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

// Close stops the scheduler and watchers and releases owned resources.
// Queued events stay persisted for the next session. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watchers := c.watchers
	closers := c.closers
	c.watchers = nil
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, w := range watchers {
		if err := w.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	c.scheduler.Stop()
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
