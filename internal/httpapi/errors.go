package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/waylink/platform-core/internal/domain"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the typed error across the wire.
type ErrorDetail struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter int            `json:"retryAfter,omitempty"`
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrCircuitOpen:
		return http.StatusServiceUnavailable
	case domain.ErrRateLimitExceeded, domain.ErrRateLimitBurst:
		return http.StatusTooManyRequests
	case domain.ErrInvalidPayload:
		return http.StatusBadRequest
	case domain.ErrAuthRejected:
		return http.StatusUnauthorized
	case domain.ErrRetryExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a typed domain error onto an HTTP response. Untyped
// errors become an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Code:    "INTERNAL",
			Message: "internal error",
		}})
		return
	}

	detail := ErrorDetail{
		Code:    string(derr.Code),
		Message: derr.Message,
		Details: derr.Details,
	}
	if derr.RetryAfter > 0 {
		secs := int(derr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		detail.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, statusFor(derr.Code), ErrorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
