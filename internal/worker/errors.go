package worker

import (
	"errors"

	"github.com/reelremix/reelremix/internal/services"
)

// fatalError marks a job failure that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps an error so the pool fails the job immediately instead of
// retrying it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether a handler error should skip the retry loop.
// Collaborator rejections (4xx) are permanent by definition.
func IsFatal(err error) bool {
	var fe *fatalError
	if errors.As(err, &fe) {
		return true
	}
	return errors.Is(err, services.ErrRejected)
}
