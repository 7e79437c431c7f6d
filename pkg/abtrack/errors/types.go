package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// HTTPError represents a collector response with a non-success status code.
type HTTPError struct {
	StatusCode int
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// EchoReason describes why echo validation failed.
type EchoReason string

// Echo validation failure reasons.
const (
	EchoMissing   EchoReason = "missing"
	EchoMismatch  EchoReason = "mismatch"
	EchoMalformed EchoReason = "malformed"
)

// EchoError indicates the collector did not reflect the submitted event back.
type EchoError struct {
	Reason EchoReason
	Want   string
	Got    string
}

// Error implements the error interface.
func (e *EchoError) Error() string {
	switch e.Reason {
	case EchoMismatch:
		return fmt.Sprintf("echo mismatch: want eventType %q, got %q", e.Want, e.Got)
	case EchoMalformed:
		return "echo malformed: response body is not JSON"
	default:
		return "echo missing: response has no event"
	}
}

// TimeoutError indicates a delivery attempt ran out of time.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// Reason returns a short label for a delivery failure, suitable for
// log fields and metric attributes.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return "status"
	}

	var echoErr *EchoError
	if errors.As(err, &echoErr) {
		return "echo_" + string(echoErr.Reason)
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	return "transport"
}
