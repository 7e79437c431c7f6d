// Package event holds the telemetry event type, the persisted retry queue,
// and the driver that delivers queued events.
//
// Delivery is at-least-once: a failed event is appended to the queue and
// retried on every drain pass until the transport accepts it. The queue is
// rewritten in full under store.KeyEvents after each mutation, and the
// in-memory copy stays authoritative when the store fails.
package event

import (
	"errors"
	"fmt"
	"time"
)

// EventType classifies an event.
type EventType string

// Event types.
const (
	Exposure    EventType = "exposure"
	Interaction EventType = "interaction"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == Exposure || t == Interaction
}

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is an immutable telemetry record.
type Event struct {
	ExperimentID string    `json:"experimentId"`
	Variant      string    `json:"variant"`
	EventType    EventType `json:"eventType"`
	Timestamp    string    `json:"timestamp"`
}

// NewEvent builds an event stamped with at in UTC.
func NewEvent(experimentID, variant string, eventType EventType, at time.Time) Event {
	return Event{
		ExperimentID: experimentID,
		Variant:      variant,
		EventType:    eventType,
		Timestamp:    at.UTC().Format(TimestampLayout),
	}
}

// Time parses the event timestamp.
func (e Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// Validation errors.
var (
	ErrMissingExperiment = errors.New("event has no experiment id")
	ErrMissingVariant    = errors.New("event has no variant")
	ErrUnknownType       = errors.New("unknown event type")
	ErrBadTimestamp      = errors.New("timestamp is not ISO-8601")
)

// Validate checks the event fields. Tracking does not reject invalid events.
func (e Event) Validate() error {
	if e.ExperimentID == "" {
		return ErrMissingExperiment
	}
	if e.Variant == "" {
		return ErrMissingVariant
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.EventType)
	}
	if _, err := e.Time(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}
	return nil
}
