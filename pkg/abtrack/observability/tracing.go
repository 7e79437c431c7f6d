package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDrainSpan starts a span for one drain pass.
	StartDrainSpan(ctx context.Context, passID string, queued int) (context.Context, trace.Span)

	// StartDeliverySpan starts a span for one delivery attempt.
	// Inside a drain pass it is a child of the drain span.
	StartDeliverySpan(ctx context.Context, experimentID, eventType string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
// The tracer is resolved per call so a provider installed later is honored.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before starting spans:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) tracer() trace.Tracer {
	return otel.Tracer("abtrack")
}

// StartDrainSpan starts a span for one drain pass.
func (m *otelSpanManager) StartDrainSpan(ctx context.Context, passID string, queued int) (context.Context, trace.Span) {
	return m.tracer().Start(ctx, "abtrack.drain",
		trace.WithAttributes(
			attribute.String("drain.pass_id", passID),
			attribute.Int("drain.queued", queued),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDeliverySpan starts a span for one delivery attempt.
func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, experimentID, eventType string) (context.Context, trace.Span) {
	return m.tracer().Start(ctx, "abtrack.deliver",
		trace.WithAttributes(
			attribute.String("event.experiment_id", experimentID),
			attribute.String("event.type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
