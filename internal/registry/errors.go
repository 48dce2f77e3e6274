package registry

import "errors"

// modelLoadError wraps a worker-side load failure. Non-recoverable: callers
// must not retry, they either fail the job (asr) or degrade the stage
// (align, diarize).
type modelLoadError struct {
	key   string
	cause error
}

func (e modelLoadError) Error() string { return "model load failed: " + e.key + ": " + e.cause.Error() }

func (e modelLoadError) Unwrap() error { return e.cause }

// ErrModelLoad constructs a modelLoadError.
func ErrModelLoad(key string, cause error) error { return modelLoadError{key: key, cause: cause} }

// IsModelLoad reports whether err is a non-recoverable model load failure.
func IsModelLoad(err error) bool {
	var e modelLoadError
	return errors.As(err, &e)
}
