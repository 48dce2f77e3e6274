package backend

import "errors"

// unavailableError signals that the worker is missing or unreachable so the
// HTTP layer can return 503 Service Unavailable instead of 500.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing/unreachable worker.
func IsUnavailable(err error) bool {
	var e unavailableError
	return errors.As(err, &e)
}

// authError signals the worker rejected a model load for credential reasons
// (gated model, missing or invalid token). Not recoverable by retry.
type authError struct{ msg string }

func (e authError) Error() string { return e.msg }

// ErrAuth constructs an authError.
func ErrAuth(msg string) error { return authError{msg: msg} }

// IsAuthFailed reports whether err is a credential failure for a gated model.
func IsAuthFailed(err error) bool {
	var e authError
	return errors.As(err, &e)
}
