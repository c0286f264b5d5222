package jobs

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned for an id the registry has never seen
var ErrJobNotFound = errors.New("job not found")

// ErrStopped is returned by CreateJob once the worker has shut down
var ErrStopped = errors.New("job worker is stopped")

// ConflictError is returned by CreateJob while another job is pending or running
type ConflictError struct {
	ActiveID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a job is already running (%s), wait for it to complete", e.ActiveID)
}

// InvalidTargetError rejects a request naming an unknown vendor, an
// out-of-range account or an unknown mode. No job is created.
type InvalidTargetError struct {
	Message string
}

func (e *InvalidTargetError) Error() string { return e.Message }

func invalidTarget(format string, args ...any) *InvalidTargetError {
	return &InvalidTargetError{Message: fmt.Sprintf(format, args...)}
}
