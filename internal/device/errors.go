package device

import (
	"errors"
	"fmt"
)

// resourceExhaustedError signals that a device cannot satisfy a memory
// request even after evicting idle models. Retryable once load drains.
type resourceExhaustedError struct {
	device string
	needMB int
}

func (e resourceExhaustedError) Error() string {
	return fmt.Sprintf("device %s exhausted: %d MB short", e.device, e.needMB)
}

// ErrResourceExhausted constructs a resourceExhaustedError.
func ErrResourceExhausted(device string, needMB int) error {
	return resourceExhaustedError{device: device, needMB: needMB}
}

// IsResourceExhausted reports whether err indicates device memory pressure
// that eviction could not relieve (return 503, retryable).
func IsResourceExhausted(err error) bool {
	var e resourceExhaustedError
	return errors.As(err, &e)
}
