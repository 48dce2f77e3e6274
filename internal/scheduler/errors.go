package scheduler

import (
	"errors"
	"fmt"
	"time"
)

type queueFullError struct {
	depth int
}

func (e *queueFullError) Error() string {
	return fmt.Sprintf("queue full: %d jobs waiting", e.depth)
}

// ErrQueueFull reports that the scheduler cannot accept more work right now.
func ErrQueueFull(depth int) error { return &queueFullError{depth: depth} }

func IsQueueFull(err error) bool {
	var e *queueFullError
	return errors.As(err, &e)
}

type unknownJobError struct {
	id string
}

func (e *unknownJobError) Error() string {
	return fmt.Sprintf("unknown job %q", e.id)
}

func ErrUnknownJob(id string) error { return &unknownJobError{id: id} }

func IsUnknownJob(err error) bool {
	var e *unknownJobError
	return errors.As(err, &e)
}

type jobTimeoutError struct {
	id    string
	limit time.Duration
}

func (e *jobTimeoutError) Error() string {
	return fmt.Sprintf("job %s exceeded its %s run limit", e.id, e.limit)
}

// ErrJobTimeout reports that a running job hit its execution deadline.
func ErrJobTimeout(id string, limit time.Duration) error {
	return &jobTimeoutError{id: id, limit: limit}
}

func IsJobTimeout(err error) bool {
	var e *jobTimeoutError
	return errors.As(err, &e)
}

type awaitTimeoutError struct {
	id string
}

func (e *awaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for job %s", e.id)
}

// ErrAwaitTimeout reports that the caller gave up waiting; the job itself
// may still be running.
func ErrAwaitTimeout(id string) error { return &awaitTimeoutError{id: id} }

func IsAwaitTimeout(err error) bool {
	var e *awaitTimeoutError
	return errors.As(err, &e)
}

type cancelledError struct {
	id string
}

func (e *cancelledError) Error() string {
	return fmt.Sprintf("job %s cancelled", e.id)
}

func ErrCancelled(id string) error { return &cancelledError{id: id} }

func IsCancelled(err error) bool {
	var e *cancelledError
	return errors.As(err, &e)
}

type shutdownError struct{}

func (e *shutdownError) Error() string { return "scheduler shutting down" }

func ErrShuttingDown() error { return &shutdownError{} }

func IsShuttingDown(err error) bool {
	var e *shutdownError
	return errors.As(err, &e)
}
