package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyLimit is returned by non-blocking launch admission when
	// every concurrency slot is taken.
	ErrConcurrencyLimit = errors.New("no free session slot")

	// ErrStopTimeout is returned when a graceful stop exceeded its deadline
	// and the session was force-terminated. The profile still ends Stopped.
	ErrStopTimeout = errors.New("graceful stop timed out")
)

// LaunchError wraps a failure of the automation engine to create a context.
type LaunchError struct {
	ProfileID string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed for profile %s: %v", e.ProfileID, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
