package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records abtrack metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTrack records one Track call and whether the event was delivered or queued.
	RecordTrack(ctx context.Context, eventType, outcome string)

	// RecordDelivery records one delivery attempt with its duration and error.
	RecordDelivery(ctx context.Context, duration time.Duration, err error)

	// RecordDrain records a completed drain pass.
	RecordDrain(ctx context.Context, delivered, remaining int, duration time.Duration)

	// RecordQueueDepth records the queue length after a mutation.
	RecordQueueDepth(ctx context.Context, depth int)

	// RecordPersistError records a failed store write or read.
	RecordPersistError(ctx context.Context, key string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	tracked       metric.Int64Counter
	attempts      metric.Int64Counter
	drainPasses   metric.Int64Counter
	drainLatency  metric.Float64Histogram
	queueDepth    metric.Int64Histogram
	persistErrors metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("abtrack")

	tracked, err := meter.Int64Counter("abtrack.events.tracked",
		metric.WithDescription("Number of tracked events"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter("abtrack.delivery.attempts",
		metric.WithDescription("Number of delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	drainPasses, err := meter.Int64Counter("abtrack.drain.passes",
		metric.WithDescription("Number of drain passes"),
	)
	if err != nil {
		return nil, err
	}

	drainLatency, err := meter.Float64Histogram("abtrack.drain.latency_ms",
		metric.WithDescription("Drain pass latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Histogram("abtrack.queue.depth",
		metric.WithDescription("Undelivered events after each queue mutation"),
	)
	if err != nil {
		return nil, err
	}

	persistErrors, err := meter.Int64Counter("abtrack.persistence.errors",
		metric.WithDescription("Number of failed store operations"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		tracked:       tracked,
		attempts:      attempts,
		drainPasses:   drainPasses,
		drainLatency:  drainLatency,
		queueDepth:    queueDepth,
		persistErrors: persistErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTrack records a Track call.
func (m *otelMetrics) RecordTrack(ctx context.Context, eventType, outcome string) {
	m.tracked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

// RecordDelivery records a delivery attempt.
func (m *otelMetrics) RecordDelivery(ctx context.Context, _ time.Duration, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", aberrors.Reason(err)),
	))
}

// RecordDrain records a drain pass.
func (m *otelMetrics) RecordDrain(ctx context.Context, delivered, remaining int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("emptied", remaining == 0))
	m.drainPasses.Add(ctx, 1, attrs)
	m.drainLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordQueueDepth records the queue length.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}

// RecordPersistError records a store failure.
func (m *otelMetrics) RecordPersistError(ctx context.Context, key string) {
	m.persistErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}
