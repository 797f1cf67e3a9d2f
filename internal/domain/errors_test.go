package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitOpenErrorNamesService(t *testing.T) {
	err := NewCircuitOpenError("geocoder")

	assert.Equal(t, ErrCircuitOpen, CodeOf(err))
	assert.Equal(t, "geocoder", err.Service)
	assert.Contains(t, err.Error(), "geocoder")
}

func TestRateLimitErrorsCarryRetryHints(t *testing.T) {
	window := NewRateLimitError(42 * time.Second)
	assert.Equal(t, ErrRateLimitExceeded, window.Code)
	assert.Equal(t, 42*time.Second, window.RetryAfter)

	burst := NewRateLimitBurstError()
	assert.Equal(t, ErrRateLimitBurst, burst.Code)
	assert.Equal(t, time.Second, burst.RetryAfter)
}

func TestJobFailedErrorWrapsCause(t *testing.T) {
	cause := errors.New("db write refused")
	err := NewJobFailedError("locations", "job-1", 3, cause)

	assert.Equal(t, ErrJobFailed, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "locations", err.Service)
	assert.Equal(t, "job-1", err.Details["job_id"])
	assert.Equal(t, 3, err.Details["attempts"])
}

func TestErrorIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", NewCircuitOpenError("store"))

	var derr *Error
	require.ErrorAs(t, wrapped, &derr)
	assert.Equal(t, ErrCircuitOpen, derr.Code)
	assert.True(t, errors.Is(wrapped, NewCircuitOpenError("other-service")),
		"errors with the same code match regardless of service")
}

func TestCodeOfUntypedError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestInvalidPayloadErrorDetails(t *testing.T) {
	err := NewInvalidPayloadError("location-update", "latitude must be a number")

	assert.Equal(t, ErrInvalidPayload, err.Code)
	assert.Equal(t, "location-update", err.Details["event"])
	assert.Contains(t, err.Message, "latitude")
}
