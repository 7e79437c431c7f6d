package errors

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds retries of one local operation, such as a store write
// against a busy database file.
//
// Deliveries do not use it. A failed delivery goes back on the queue and
// waits for the next drain pass.
type RetryConfig struct {
	MaxAttempts    int           // total attempts; values below 1 mean 1
	InitialBackoff time.Duration // wait before the second attempt
	MaxBackoff     time.Duration // cap on the wait; 0 = uncapped
	BackoffFactor  float64       // growth per attempt; below 1 means constant
	Jitter         float64       // +/- fraction applied to each wait

	// RetryableFunc replaces Retryable when set.
	RetryableFunc func(error) bool
}

// DefaultRetry suits a local disk: three quick attempts.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	BackoffFactor:  2,
	Jitter:         0.1,
}

// RetryResult reports how a retried operation ended.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// Retryable reports whether err may succeed on another attempt. Context
// errors and missing assignments never do.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return KindOf(err) != KindAssignmentMissing
	}
}

// WithRetry runs fn until it succeeds, fails with a non-retryable error, or
// cfg.MaxAttempts is spent.
func WithRetry[T any](cfg RetryConfig, fn func() (T, error)) RetryResult[T] {
	return WithRetryContext(context.Background(), cfg, func(context.Context) (T, error) {
		return fn()
	})
}

// WithRetryContext is WithRetry with cancellation. A cancelled ctx stops the
// loop before the next attempt or during a backoff wait.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	attempts := max(cfg.MaxAttempts, 1)
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = Retryable
	}

	var res RetryResult[T]
	finish := func(err error) RetryResult[T] {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	wait := cfg.InitialBackoff
	for res.Attempts < attempts {
		if err := ctx.Err(); err != nil {
			return finish(fmt.Errorf("retry aborted: %w", err))
		}

		res.Attempts++
		v, err := fn(ctx)
		if err == nil {
			res.Value = v
			return finish(nil)
		}
		if !retryable(err) {
			return finish(err)
		}
		if res.Attempts == attempts {
			return finish(fmt.Errorf("gave up after %d attempts: %w", attempts, err))
		}

		timer := time.NewTimer(jittered(wait, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(fmt.Errorf("retry aborted: %w", ctx.Err()))
		case <-timer.C:
		}
		wait = nextBackoff(wait, cfg)
	}
	return finish(nil)
}

func nextBackoff(d time.Duration, cfg RetryConfig) time.Duration {
	if cfg.BackoffFactor > 1 {
		d = time.Duration(float64(d) * cfg.BackoffFactor)
	}
	if cfg.MaxBackoff > 0 {
		d = min(d, cfg.MaxBackoff)
	}
	return d
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*jitter*(rand.Float64()*2-1))
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the first wait.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps the wait.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithRetryableFunc replaces the retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// NewRetryConfig applies opts over DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
