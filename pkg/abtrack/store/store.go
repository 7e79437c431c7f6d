// Package store provides durable key/value persistence for abtrack state.
//
// Two keys are used by the rest of the module, each holding one JSON document:
// KeyEvents (the undelivered event queue) and KeyAssignments (experiment id to
// variant name). Every write overwrites the whole value.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Keys written by abtrack.
const (
	// KeyEvents holds a JSON array of undelivered events.
	KeyEvents = "events"

	// KeyAssignments holds a JSON object mapping experiment id to variant name.
	KeyAssignments = "assignments"
)

// Store persists values by key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key.
	// Returns ErrNotFound if the key has never been set.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key.
	// Returns nil if the key doesn't exist.
	Delete(key string) error

	// List returns metadata for every stored key, ordered by key.
	List() ([]Info, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading the value.
type Info struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a key doesn't exist.
	ErrNotFound = errors.New("key not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// LoadJSON decodes the value stored under key into v.
// Returns false with a nil error if the key is absent.
func LoadJSON(s Store, key string, v any) (bool, error) {
	data, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, data)
}
