package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"scriberd/internal/backend"
	"scriberd/internal/device"
	"scriberd/internal/registry"
	"scriberd/internal/scheduler"
	"scriberd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

// ErrValidation marks a request as malformed; it maps to 400.
func ErrValidation(msg string) error { return &validationError{msg: msg} }

func IsValidation(err error) bool {
	var e *validationError
	return errors.As(err, &e)
}

// statusFor maps service errors to HTTP status codes. Unrecognized errors
// are 500.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case scheduler.IsQueueFull(err):
		return http.StatusTooManyRequests
	case scheduler.IsCancelled(err):
		// Non-standard nginx code for "client closed request".
		return 499
	case scheduler.IsJobTimeout(err), scheduler.IsAwaitTimeout(err):
		return http.StatusGatewayTimeout
	case scheduler.IsUnknownJob(err):
		return http.StatusNotFound
	case scheduler.IsShuttingDown(err):
		return http.StatusServiceUnavailable
	case device.IsResourceExhausted(err):
		return http.StatusServiceUnavailable
	case backend.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case registry.IsModelLoad(err):
		return http.StatusInternalServerError
	case errors.As(err, &he):
		return he.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err to a status and writes it. Retryable rejections get a
// Retry-After hint.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeJSONError(w, status, err.Error())
}
