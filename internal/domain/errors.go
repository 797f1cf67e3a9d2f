package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies platform-core errors.
type ErrorCode string

const (
	ErrCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrRateLimitBurst    ErrorCode = "RATE_LIMIT_BURST"
	ErrRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrJobFailed         ErrorCode = "JOB_FAILED"
	ErrInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
	ErrAuthRejected      ErrorCode = "AUTH_REJECTED"
)

// Error is the typed error surfaced by the gating components. User-visible
// failures always carry something actionable: a retry delay, the failing
// dependency's name, or a validation reason.
type Error struct {
	Code       ErrorCode
	Message    string
	Service    string
	RetryAfter time.Duration
	Details    map[string]any
	Cause      error
}

func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Service, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the error code, or "" for untyped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// NewCircuitOpenError reports a fast-failed call, naming the dependency.
func NewCircuitOpenError(service string) *Error {
	return &Error{
		Code:    ErrCircuitOpen,
		Message: "circuit breaker is open",
		Service: service,
	}
}

// NewRateLimitError reports window exhaustion with a retry hint.
func NewRateLimitError(retryAfter time.Duration) *Error {
	return &Error{
		Code:       ErrRateLimitExceeded,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// NewRateLimitBurstError reports a burst rejection; the hint is always 1s.
func NewRateLimitBurstError() *Error {
	return &Error{
		Code:       ErrRateLimitBurst,
		Message:    "too many requests in a short burst, slow down",
		RetryAfter: time.Second,
	}
}

// NewRetryExhaustedError reports that every retry attempt failed.
func NewRetryExhaustedError(service string, attempts int, cause error) *Error {
	return &Error{
		Code:    ErrRetryExhausted,
		Message: fmt.Sprintf("retry exhausted after %d attempts", attempts),
		Service: service,
		Cause:   cause,
		Details: map[string]any{"attempts": attempts},
	}
}

// NewJobFailedError reports a permanently dropped job.
func NewJobFailedError(queue, jobID string, attempts int, cause error) *Error {
	return &Error{
		Code:    ErrJobFailed,
		Message: fmt.Sprintf("job failed permanently after %d attempts", attempts),
		Service: queue,
		Cause:   cause,
		Details: map[string]any{"job_id": jobID, "attempts": attempts},
	}
}

// NewInvalidPayloadError reports a malformed realtime event. It is sent to
// the originating connection only, never broadcast.
func NewInvalidPayloadError(event, reason string) *Error {
	return &Error{
		Code:    ErrInvalidPayload,
		Message: reason,
		Details: map[string]any{"event": event},
	}
}

// NewAuthRejectedError fails a handshake before any state is created.
func NewAuthRejectedError(reason string) *Error {
	return &Error{
		Code:    ErrAuthRejected,
		Message: reason,
	}
}
