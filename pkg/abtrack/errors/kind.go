// Package errors defines the failure taxonomy for abtrack.
//
// Three kinds of failure exist:
//   - AssignmentMissing: a variant lookup for an experiment that was never assigned
//   - Delivery: any failed delivery attempt (transport error, bad status, bad echo)
//   - Persistence: a store read or write failed
//
// Delivery failures are always recovered locally by requeueing. Persistence
// failures are reported but never fatal; in-memory state stays authoritative.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how abtrack handles it.
type Kind int

const (
	// KindUnknown is any error that did not originate in abtrack.
	KindUnknown Kind = iota

	// KindAssignmentMissing indicates a lookup before assignment.
	KindAssignmentMissing

	// KindDelivery indicates a failed delivery attempt.
	// All delivery failures are retried identically.
	KindDelivery

	// KindPersistence indicates a store read or write failure.
	KindPersistence
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAssignmentMissing:
		return "assignment_missing"
	case KindDelivery:
		return "delivery"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// ErrNotAssigned indicates no variant has been assigned for an experiment.
var ErrNotAssigned = errors.New("experiment not assigned")

// Error wraps an underlying error with its kind and the operation that failed.
type Error struct {
	// Kind indicates how the error is handled.
	Kind Kind

	// Op names the operation ("deliver", "persist", "load", "get").
	Op string

	// Key is the store key or experiment id involved, if any.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Kind, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// AssignmentMissing creates an error for a lookup of an unassigned experiment.
func AssignmentMissing(experimentID string) *Error {
	return &Error{Kind: KindAssignmentMissing, Op: "get", Key: experimentID, Err: ErrNotAssigned}
}

// Delivery creates a delivery failure.
func Delivery(err error, op string) *Error {
	return &Error{Kind: KindDelivery, Op: op, Err: err}
}

// Persistence creates a persistence failure for a store key.
func Persistence(err error, op, key string) *Error {
	return &Error{Kind: KindPersistence, Op: op, Key: key, Err: err}
}

// KindOf reports the kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, ErrNotAssigned) {
		return KindAssignmentMissing
	}

	// Detail types only ever come out of a delivery attempt.
	var httpErr *HTTPError
	var echoErr *EchoError
	var timeoutErr *TimeoutError
	if errors.As(err, &httpErr) || errors.As(err, &echoErr) || errors.As(err, &timeoutErr) {
		return KindDelivery
	}

	return KindUnknown
}

// IsDelivery reports whether err is a delivery failure.
func IsDelivery(err error) bool {
	return KindOf(err) == KindDelivery
}

// IsPersistence reports whether err is a persistence failure.
func IsPersistence(err error) bool {
	return KindOf(err) == KindPersistence
}

// IsAssignmentMissing reports whether err is a lookup before assignment.
func IsAssignmentMissing(err error) bool {
	return KindOf(err) == KindAssignmentMissing
}
