package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// captureLogger returns a JSON logger writing to a buffer at debug level.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds event fields", func(t *testing.T) {
		logger, buf := captureLogger()
		EnrichLogger(logger, "homepage_banner", "treatment", "exposure").Info("hello")

		record := lastRecord(t, buf)
		assert.Equal(t, "homepage_banner", record["experiment_id"])
		assert.Equal(t, "treatment", record["variant"])
		assert.Equal(t, "exposure", record["event_type"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "a", "b", "c"))
	})
}

func TestLogDeliveryFailed(t *testing.T) {
	logger, buf := captureLogger()
	LogDeliveryFailed(logger, "homepage_banner", "interaction", &aberrors.HTTPError{StatusCode: 503})

	record := lastRecord(t, buf)
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "delivery failed", record["msg"])
	assert.Equal(t, "status", record["reason"])
	assert.Equal(t, "interaction", record["event_type"])
}

func TestLogDrainComplete(t *testing.T) {
	logger, buf := captureLogger()
	LogDrainComplete(logger, "pass-1", 2, 1, 12.5)

	record := lastRecord(t, buf)
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "pass-1", record["pass_id"])
	assert.Equal(t, float64(2), record["delivered"])
	assert.Equal(t, float64(1), record["remaining"])
}

func TestLogPersistError(t *testing.T) {
	logger, buf := captureLogger()
	LogPersistError(logger, "events", "persist", errors.New("disk full"))

	record := lastRecord(t, buf)
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "events", record["key"])
	assert.Equal(t, "disk full", record["error"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogAssigned(nil, "a", "b")
		LogInvalidExperiment(nil, "a", errors.New("x"))
		LogDeliveryFailed(nil, "a", "exposure", errors.New("x"))
		LogQueued(nil, "a", "exposure", 1)
		LogDrainStart(nil, "p", 1)
		LogDrainComplete(nil, "p", 1, 0, 1)
		LogDrainCoalesced(nil, "interval")
		LogPersistError(nil, "events", "persist", errors.New("x"))
		LogTickSkipped(nil)
		LogConnectivity(nil, true)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(5))
}

// setupMetricsTest installs a manual-reader meter provider.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestOtelMetrics(t *testing.T) {
	reader := setupMetricsTest(t)

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("track outcome", func(t *testing.T) {
		m.RecordTrack(ctx, "exposure", "queued")

		metric := findMetric(t, reader, "abtrack.events.tracked")
		require.NotNil(t, metric)
		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.NotEmpty(t, sum.DataPoints)

		found := false
		for _, dp := range sum.DataPoints {
			if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok && v.AsString() == "queued" {
				found = true
				assert.GreaterOrEqual(t, dp.Value, int64(1))
			}
		}
		assert.True(t, found)
	})

	t.Run("delivery reason", func(t *testing.T) {
		m.RecordDelivery(ctx, time.Millisecond, &aberrors.EchoError{Reason: aberrors.EchoMismatch})

		metric := findMetric(t, reader, "abtrack.delivery.attempts")
		require.NotNil(t, metric)
		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)

		found := false
		for _, dp := range sum.DataPoints {
			if v, ok := dp.Attributes.Value(attribute.Key("reason")); ok && v.AsString() == "echo_mismatch" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("drain and depth", func(t *testing.T) {
		m.RecordDrain(ctx, 2, 1, 30*time.Millisecond)
		m.RecordQueueDepth(ctx, 1)
		m.RecordPersistError(ctx, "events")

		for _, name := range []string{
			"abtrack.drain.passes",
			"abtrack.drain.latency_ms",
			"abtrack.queue.depth",
			"abtrack.persistence.errors",
		} {
			assert.NotNil(t, findMetric(t, reader, name), name)
		}
	})
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordTrack(ctx, "exposure", "delivered")
		m.RecordDelivery(ctx, time.Second, nil)
		m.RecordDrain(ctx, 1, 0, time.Second)
		m.RecordQueueDepth(ctx, 0)
		m.RecordPersistError(ctx, "events")
	})
}

// setupTracingTest installs an in-memory span exporter.
func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestSpanManager(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, drain := sm.StartDrainSpan(context.Background(), "pass-1", 3)
	_, deliver := sm.StartDeliverySpan(ctx, "homepage_banner", "exposure")
	sm.EndSpanWithError(deliver, errors.New("HTTP 500"))
	sm.AddSpanEvent(ctx, "requeued", attribute.Int("remaining", 1))
	sm.EndSpanWithError(drain, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "abtrack.deliver", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())

	assert.Equal(t, "abtrack.drain", spans[1].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
	require.Len(t, spans[1].Events, 1)
	assert.Equal(t, "requeued", spans[1].Events[0].Name)
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartDrainSpan(ctx, "p", 0)
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	_, span = sm.StartDeliverySpan(ctx, "e", "exposure")
	sm.EndSpanWithError(span, errors.New("x"))
	sm.AddSpanEvent(ctx, "nothing")
}

func TestEndSpanWithError_Nil(t *testing.T) {
	assert.NotPanics(t, func() { EndSpanWithError(nil, nil) })
}
