package reqflow

import (
	"errors"
	"fmt"
	"time"
)

// Classification names a failure class from the taxonomy. The same values
// appear as the Type of terminal *RequestError values, so callers can match
// with errors.Is against a RequestError of the wanted Type.
type Classification string

const (
	// ClassTransientNetwork covers timeouts, connection resets and other
	// failures where the request may never have reached the server.
	ClassTransientNetwork Classification = "TransientNetwork"

	// ClassTransientServer covers 5xx-equivalent responses.
	ClassTransientServer Classification = "TransientServer"

	// ClassRateLimited is an explicit backpressure signal, possibly carrying
	// a server-specified delay.
	ClassRateLimited Classification = "RateLimited"

	// ClassClientError covers 4xx-equivalent responses; never retried.
	ClassClientError Classification = "ClientError"

	// ClassFatal covers malformed requests; never retried.
	ClassFatal Classification = "Fatal"

	// ClassAuthRejected marks a credentialed attempt rejected by the server.
	// It triggers one coordinated token refresh before surfacing as
	// ClassAuthenticationFailed.
	ClassAuthRejected Classification = "AuthRejected"

	// ClassAuthenticationFailed is terminal: refresh was attempted (or
	// exhausted) and the credential is still rejected.
	ClassAuthenticationFailed Classification = "AuthenticationFailed"

	// ClassDependencyFailed resolves operations whose graph dependency
	// terminally failed; computed without contacting the transport.
	ClassDependencyFailed Classification = "DependencyFailed"

	// ClassCyclicDependency rejects a graph before any submission.
	ClassCyclicDependency Classification = "CyclicDependency"

	// ClassCancelled resolves operations cancelled by the caller.
	ClassCancelled Classification = "Cancelled"

	// ClassDeadlineExceeded resolves operations whose deadline passed or
	// whose next retry delay would overrun it.
	ClassDeadlineExceeded Classification = "DeadlineExceeded"

	// ClassCircuitOpen resolves operations rejected by the dispatch circuit
	// breaker.
	ClassCircuitOpen Classification = "CircuitOpen"

	// ClassValidation marks configuration errors detected at construction.
	ClassValidation Classification = "Validation"
)

// Sentinel errors for dispatch-path rejections.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a dispatch.
	ErrCircuitOpen = errors.New("reqflow: circuit open")

	// ErrSchedulerClosed is returned for submissions after Close.
	ErrSchedulerClosed = errors.New("reqflow: scheduler closed")
)

// RequestError is the terminal error for an Operation. It carries the last
// attempt's classification and the attempt count, sufficient to distinguish
// "never reached the server" from "server rejected repeatedly".
type RequestError struct {
	Type         Classification
	Message      string
	Cause        error
	OperationKey string
	Method       string
	URL          string
	StatusCode   int
	Attempts     int
	Timestamp    time.Time
	Duration     time.Duration
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (after %d attempt(s))", msg, e.Attempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*RequestError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient reports whether err represents a failure that might succeed on
// retry: transient network or server failures and rate limiting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Type {
		case ClassTransientNetwork, ClassTransientServer, ClassRateLimited, ClassCircuitOpen:
			return true
		default:
			return false
		}
	}
	return false
}

// retryable reports whether a classification is eligible for automatic retry
// (still gated on the operation's idempotency flag).
func (c Classification) retryable() bool {
	switch c {
	case ClassTransientNetwork, ClassTransientServer, ClassRateLimited:
		return true
	default:
		return false
	}
}
