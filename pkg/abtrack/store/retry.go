package store

import (
	"errors"

	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
)

// RetryingStore wraps a Store and retries failed operations with backoff.
// ErrNotFound and ErrStoreClosed are returned immediately.
type RetryingStore struct {
	Store
	cfg aberrors.RetryConfig
}

// WithRetry wraps s so Get, Set, and Delete are retried per cfg.
func WithRetry(s Store, cfg aberrors.RetryConfig) *RetryingStore {
	if cfg.RetryableFunc == nil {
		cfg.RetryableFunc = retryable
	}
	return &RetryingStore{Store: s, cfg: cfg}
}

func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreClosed) {
		return false
	}
	return aberrors.Retryable(err)
}

// Get implements Store.
func (r *RetryingStore) Get(key string) ([]byte, error) {
	res := aberrors.WithRetry(r.cfg, func() ([]byte, error) {
		return r.Store.Get(key)
	})
	return res.Value, res.Err
}

// Set implements Store.
func (r *RetryingStore) Set(key string, value []byte) error {
	res := aberrors.WithRetry(r.cfg, func() (struct{}, error) {
		return struct{}{}, r.Store.Set(key, value)
	})
	return res.Err
}

// Delete implements Store.
func (r *RetryingStore) Delete(key string) error {
	res := aberrors.WithRetry(r.cfg, func() (struct{}, error) {
		return struct{}{}, r.Store.Delete(key)
	})
	return res.Err
}
