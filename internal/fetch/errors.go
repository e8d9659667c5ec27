package fetch

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrStopped     = errors.New("fetch pool stopped")
	ErrQueueFull   = errors.New("fetch pool queue full")
	ErrOverlapSkip = errors.New("fetch already pending for key")
	ErrStale       = errors.New("fetch waited too long in queue")
	ErrSignedOut   = errors.New("remote session signed out")
	ErrThrottled   = errors.New("remote throttled the request")
)

// NoRetry marks an error as permanent so the pool does not retry the task.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a server supplied delay (for example a Retry-After
// header) to err. The pool waits at least that long before retrying.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
