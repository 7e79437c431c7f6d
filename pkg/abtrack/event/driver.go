package event

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"github.com/randalmurphal/abtrack/pkg/abtrack/observability"
	"github.com/randalmurphal/abtrack/pkg/abtrack/store"
	"go.opentelemetry.io/otel/attribute"
)

// Transport performs one delivery attempt. A nil error means delivered.
type Transport interface {
	Deliver(ctx context.Context, evt Event) error
}

// DefaultAttemptTimeout bounds a single delivery attempt.
const DefaultAttemptTimeout = 10 * time.Second

// Outcome is the result of Track.
type Outcome int

// Track outcomes.
const (
	OutcomeDelivered Outcome = iota
	OutcomeQueued
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == OutcomeDelivered {
		return "delivered"
	}
	return "queued"
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	// PassID identifies the pass in logs and spans. Empty when nothing ran.
	PassID string

	Attempted int
	Delivered int

	// Remaining is the queue length after the pass.
	Remaining int

	// Coalesced is true when another pass was already in flight. This call
	// did nothing itself; the running call makes one more pass for it.
	Coalesced bool

	// Err carries a persistence failure or the context error that cut the pass short.
	Err error
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithAttemptTimeout bounds each delivery attempt. Default: 10s.
func WithAttemptTimeout(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.timeout = d
		}
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(dr *Driver) {
		dr.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) DriverOption {
	return func(dr *Driver) {
		if m != nil {
			dr.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) DriverOption {
	return func(dr *Driver) {
		if s != nil {
			dr.spans = s
		}
	}
}

// Driver delivers events immediately and drains the queue on demand.
// At most one drain pass runs at a time.
type Driver struct {
	queue     *Queue
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager

	draining atomic.Bool
	rerun    atomic.Bool
}

// NewDriver creates a driver over q and t.
func NewDriver(q *Queue, t Transport, opts ...DriverOption) *Driver {
	d := &Driver{
		queue:     q,
		transport: t,
		timeout:   DefaultAttemptTimeout,
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Queue returns the driver's queue.
func (d *Driver) Queue() *Queue {
	return d.queue
}

// Track attempts immediate delivery of evt and queues it on failure.
// Track never fails; delivery and persistence problems are logged and
// recorded, and the event stays buffered in memory.
func (d *Driver) Track(ctx context.Context, evt Event) Outcome {
	if err := evt.Validate(); err != nil {
		if l := observability.EnrichLogger(d.logger, evt.ExperimentID, evt.Variant, string(evt.EventType)); l != nil {
			l.Warn("tracking malformed event", slog.String("error", err.Error()))
		}
	}

	if err := d.attempt(ctx, evt); err == nil {
		d.metrics.RecordTrack(ctx, string(evt.EventType), OutcomeDelivered.String())
		return OutcomeDelivered
	}

	depth, err := d.queue.Append(evt)
	if err != nil {
		d.reportPersist(ctx, err)
	}
	observability.LogQueued(d.logger, evt.ExperimentID, string(evt.EventType), depth)
	d.metrics.RecordQueueDepth(ctx, depth)
	d.metrics.RecordTrack(ctx, string(evt.EventType), OutcomeQueued.String())
	return OutcomeQueued
}

// Drain attempts every queued event once, in order, and keeps the failures.
//
// An empty queue is a no-op and does not touch the store. A failure does not
// stop the pass. Events tracked while the pass runs are kept after the
// failures. If ctx ends mid-pass, unattempted events stay queued in order.
//
// A call that overlaps a running pass returns at once with Coalesced set,
// and the running call makes one more pass when its current one settles.
// Attempted and Delivered then cover every pass the call made. PassID names
// the last pass that ran and Remaining is the queue length after it.
func (d *Driver) Drain(ctx context.Context) DrainResult {
	if !d.draining.CompareAndSwap(false, true) {
		d.rerun.Store(true)
		return DrainResult{Coalesced: true, Remaining: d.queue.Len()}
	}

	var total DrainResult
	for {
		d.rerun.Store(false)
		res := d.pass(ctx)
		if res.PassID != "" {
			total.PassID = res.PassID
		}
		total.Attempted += res.Attempted
		total.Delivered += res.Delivered
		total.Remaining = res.Remaining
		total.Err = errors.Join(total.Err, res.Err)

		if ctx.Err() == nil && d.rerun.Load() {
			continue
		}
		d.draining.Store(false)
		// A trigger that landed between the check and the release is ours
		// unless another caller already took the guard.
		if ctx.Err() == nil && d.rerun.Load() && d.draining.CompareAndSwap(false, true) {
			continue
		}
		return total
	}
}

// pass runs one drain pass. The caller holds the guard.
func (d *Driver) pass(ctx context.Context) DrainResult {
	events, gen := d.queue.begin()
	if len(events) == 0 {
		return DrainResult{}
	}

	passID := uuid.NewString()
	done := observability.TimedOperation()
	start := time.Now()

	ctx, span := d.spans.StartDrainSpan(ctx, passID, len(events))
	observability.LogDrainStart(d.logger, passID, len(events))

	result := DrainResult{PassID: passID}
	var failed []Event
	for i, evt := range events {
		if err := ctx.Err(); err != nil {
			failed = append(failed, events[i:]...)
			result.Err = err
			break
		}
		result.Attempted++
		if err := d.attempt(ctx, evt); err != nil {
			failed = append(failed, evt)
			continue
		}
		result.Delivered++
	}

	remaining, err := d.queue.settle(len(events), failed, gen)
	if err != nil {
		d.reportPersist(ctx, err)
		result.Err = errors.Join(result.Err, err)
	}
	result.Remaining = remaining

	d.spans.AddSpanEvent(ctx, "settled",
		attribute.Int("delivered", result.Delivered),
		attribute.Int("remaining", remaining),
	)
	d.spans.EndSpanWithError(span, result.Err)

	d.metrics.RecordDrain(ctx, result.Delivered, remaining, time.Since(start))
	d.metrics.RecordQueueDepth(ctx, remaining)
	observability.LogDrainComplete(d.logger, passID, result.Delivered, remaining, done())
	return result
}

// Draining reports whether a pass is in flight.
func (d *Driver) Draining() bool {
	return d.draining.Load()
}

// attempt runs one bounded delivery.
func (d *Driver) attempt(ctx context.Context, evt Event) error {
	ctx, span := d.spans.StartDeliverySpan(ctx, evt.ExperimentID, string(evt.EventType))
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.transport.Deliver(attemptCtx, evt)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = aberrors.Delivery(&aberrors.TimeoutError{
			Operation: "deliver " + evt.ExperimentID,
			Duration:  d.timeout.String(),
		}, "deliver")
	}

	d.metrics.RecordDelivery(ctx, time.Since(start), err)
	d.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogDeliveryFailed(d.logger, evt.ExperimentID, string(evt.EventType), err)
	}
	return err
}

func (d *Driver) reportPersist(ctx context.Context, err error) {
	observability.LogPersistError(d.logger, store.KeyEvents, "persist", err)
	d.metrics.RecordPersistError(ctx, store.KeyEvents)
}
