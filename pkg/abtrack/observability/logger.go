// Package observability provides structured logging, metrics, and tracing
// for abtrack.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"

	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
)

// EnrichLogger adds event context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "homepage_banner", "treatment", "exposure")
//	enriched.Warn("delivery failed") // includes experiment_id, variant, event_type
func EnrichLogger(logger *slog.Logger, experimentID, variant, eventType string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("experiment_id", experimentID),
		slog.String("variant", variant),
		slog.String("event_type", eventType),
	)
}

// LogAssigned logs a new variant assignment.
func LogAssigned(logger *slog.Logger, experimentID, variant string) {
	if logger == nil {
		return
	}
	logger.Info("variant assigned",
		slog.String("experiment_id", experimentID),
		slog.String("variant", variant),
	)
}

// LogInvalidExperiment logs an experiment that was skipped during assignment.
func LogInvalidExperiment(logger *slog.Logger, experimentID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("experiment skipped",
		slog.String("experiment_id", experimentID),
		slog.String("error", err.Error()),
	)
}

// LogDeliveryFailed logs a failed delivery attempt. The event stays queued.
func LogDeliveryFailed(logger *slog.Logger, experimentID, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("delivery failed",
		slog.String("experiment_id", experimentID),
		slog.String("event_type", eventType),
		slog.String("reason", aberrors.Reason(err)),
		slog.String("error", err.Error()),
	)
}

// LogQueued logs an event buffered after a failed immediate delivery.
func LogQueued(logger *slog.Logger, experimentID, eventType string, depth int) {
	if logger == nil {
		return
	}
	logger.Debug("event queued",
		slog.String("experiment_id", experimentID),
		slog.String("event_type", eventType),
		slog.Int("queued", depth),
	)
}

// LogDrainStart logs the start of a drain pass.
func LogDrainStart(logger *slog.Logger, passID string, queued int) {
	if logger == nil {
		return
	}
	logger.Debug("drain starting",
		slog.String("pass_id", passID),
		slog.Int("queued", queued),
	)
}

// LogDrainComplete logs a completed drain pass.
func LogDrainComplete(logger *slog.Logger, passID string, delivered, remaining int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("drain completed",
		slog.String("pass_id", passID),
		slog.Int("delivered", delivered),
		slog.Int("remaining", remaining),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDrainCoalesced logs a drain trigger that overlapped an in-flight pass.
func LogDrainCoalesced(logger *slog.Logger, trigger string) {
	if logger == nil {
		return
	}
	logger.Debug("drain already in flight",
		slog.String("trigger", trigger),
	)
}

// LogPersistError logs a store failure (non-fatal).
func LogPersistError(logger *slog.Logger, key, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("persistence failed",
		slog.String("key", key),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogTickSkipped logs an interval tick that found the runtime offline.
func LogTickSkipped(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Debug("retry tick skipped: offline")
}

// LogConnectivity logs a connectivity transition.
func LogConnectivity(logger *slog.Logger, online bool) {
	if logger == nil {
		return
	}
	logger.Info("connectivity changed",
		slog.Bool("online", online),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
