package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown"},
		{KindAssignmentMissing, "assignment_missing"},
		{KindDelivery, "delivery"},
		{KindPersistence, "persistence"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"not assigned sentinel", ErrNotAssigned, KindAssignmentMissing},
		{"assignment missing", AssignmentMissing("exp"), KindAssignmentMissing},
		{"delivery", Delivery(errors.New("x"), "deliver"), KindDelivery},
		{"persistence", Persistence(errors.New("x"), "persist", "events"), KindPersistence},
		{"http detail", &HTTPError{StatusCode: 500}, KindDelivery},
		{"echo detail", &EchoError{Reason: EchoMissing}, KindDelivery},
		{"timeout detail", &TimeoutError{Operation: "deliver", Duration: "1s"}, KindDelivery},
		{"wrapped persistence", fmt.Errorf("outer: %w", Persistence(errors.New("x"), "load", "k")), KindPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsDelivery(&HTTPError{StatusCode: 503}))
	assert.True(t, IsPersistence(Persistence(errors.New("disk full"), "persist", "events")))
	assert.True(t, IsAssignmentMissing(AssignmentMissing("banner")))
	assert.False(t, IsDelivery(errors.New("other")))
}

func TestErrorMessage(t *testing.T) {
	t.Run("with key", func(t *testing.T) {
		err := Persistence(errors.New("disk full"), "persist", "events")
		assert.Equal(t, `persistence persist "events": disk full`, err.Error())
	})

	t.Run("without key", func(t *testing.T) {
		err := Delivery(errors.New("refused"), "deliver")
		assert.Equal(t, "delivery deliver: refused", err.Error())
	})

	t.Run("unwrap", func(t *testing.T) {
		err := AssignmentMissing("banner")
		assert.ErrorIs(t, err, ErrNotAssigned)
	})
}

func TestReason(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "ok"},
		{"status", &HTTPError{StatusCode: 502}, "status"},
		{"echo missing", &EchoError{Reason: EchoMissing}, "echo_missing"},
		{"echo mismatch", &EchoError{Reason: EchoMismatch, Want: "exposure", Got: "interaction"}, "echo_mismatch"},
		{"echo malformed", &EchoError{Reason: EchoMalformed}, "echo_malformed"},
		{"timeout", &TimeoutError{Operation: "deliver", Duration: "1s"}, "timeout"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"wrapped status", Delivery(&HTTPError{StatusCode: 500}, "deliver"), "status"},
		{"other", errors.New("connection refused"), "transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Reason(tt.err))
		})
	}
}

func TestEchoErrorMessage(t *testing.T) {
	err := &EchoError{Reason: EchoMismatch, Want: "exposure", Got: "interaction"}
	assert.Contains(t, err.Error(), `want eventType "exposure"`)
	assert.Contains(t, (&EchoError{Reason: EchoMissing}).Error(), "missing")
}

func TestWithRetry(t *testing.T) {
	fast := NewRetryConfig(
		WithMaxAttempts(3),
		WithInitialBackoff(time.Millisecond),
		WithMaxBackoff(2*time.Millisecond),
	)

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		result := WithRetry(fast, func() (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("database is locked")
			}
			return "ok", nil
		})
		require.NoError(t, result.Err)
		assert.Equal(t, "ok", result.Value)
		assert.Equal(t, 3, result.Attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		inner := errors.New("still locked")
		result := WithRetry(fast, func() (int, error) {
			return 0, inner
		})
		require.Error(t, result.Err)
		assert.ErrorIs(t, result.Err, inner)
		assert.Equal(t, 3, result.Attempts)
	})

	t.Run("stops on non-retryable", func(t *testing.T) {
		calls := 0
		result := WithRetry(fast, func() (int, error) {
			calls++
			return 0, AssignmentMissing("exp")
		})
		require.Error(t, result.Err)
		assert.Equal(t, 1, calls)
	})

	t.Run("custom retryable func", func(t *testing.T) {
		cfg := NewRetryConfig(WithMaxAttempts(5), WithInitialBackoff(time.Millisecond),
			WithRetryableFunc(func(error) bool { return false }))
		calls := 0
		_ = WithRetry(cfg, func() (int, error) {
			calls++
			return 0, errors.New("nope")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		calls := 0
		result := WithRetry(RetryConfig{}, func() (int, error) {
			calls++
			return 1, nil
		})
		require.NoError(t, result.Err)
		assert.Equal(t, 1, calls)
	})
}

func TestWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := WithRetryContext(ctx, DefaultRetry, func(context.Context) (int, error) {
		return 1, nil
	})
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 0, result.Attempts)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, Retryable(ErrNotAssigned))
	assert.True(t, Retryable(errors.New("database is locked")))
}
