package abtrack

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/abtrack/pkg/abtrack/assign"
	"github.com/randalmurphal/abtrack/pkg/abtrack/observability"
	"github.com/randalmurphal/abtrack/pkg/abtrack/schedule"
)

// clientConfig holds configuration for a Client.
type clientConfig struct {
	logger         *slog.Logger
	conn           schedule.Connectivity
	retryInterval  time.Duration
	attemptTimeout time.Duration
	source         assign.Source
	seed           *uint64
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	now            func() time.Time
}

// defaultClientConfig returns the default client configuration.
func defaultClientConfig() clientConfig {
	return clientConfig{
		conn:          schedule.AlwaysOnline{},
		retryInterval: schedule.DefaultInterval,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		now:           time.Now,
	}
}

// Option configures a Client.
type Option func(*clientConfig)

// newClientConfig applies opts over the defaults and resolves the logger.
func newClientConfig(opts []Option) clientConfig {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithConnectivity sets the connectivity source that gates interval
// retries and signals reconnects. Default: always online.
//
// Example:
//
//	sw := schedule.NewSwitch(true, logger)
//	client, _ := abtrack.New(st, tr, abtrack.WithConnectivity(sw))
//	// host network callback:
//	sw.SetOnline(false)
func WithConnectivity(conn schedule.Connectivity) Option {
	return func(c *clientConfig) {
		if conn != nil {
			c.conn = conn
		}
	}
}

// WithRetryInterval sets how often queued events are retried while online.
// Default: 10s. Values under one second are rounded up to one second.
func WithRetryInterval(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithAttemptTimeout bounds each delivery attempt. Default: 10s.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithSource sets the random source for variant selection.
func WithSource(src assign.Source) Option {
	return func(c *clientConfig) {
		c.source = src
	}
}

// WithSeed makes variant selection reproducible.
func WithSeed(seed uint64) Option {
	return func(c *clientConfig) {
		c.seed = &seed
	}
}

// WithMetrics enables metrics recording.
//
//	abtrack.New(st, tr, abtrack.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *clientConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpans enables tracing of drain passes and delivery attempts.
func WithSpans(s observability.SpanManager) Option {
	return func(c *clientConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithClock sets the clock used to stamp events built by TrackExposure and
// TrackInteraction.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		if now != nil {
			c.now = now
		}
	}
}
