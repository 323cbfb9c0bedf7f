package coordinator

import (
	"errors"
	"fmt"
)

var (
	ErrCannotGoOffline  = errors.New("cannot go offline with a pending request or active trip")
	ErrAlreadyOnline    = errors.New("driver is already online")
	ErrAlreadyOffline   = errors.New("driver is already offline")
	ErrBusy             = errors.New("another operation is in progress")
	ErrInvalidState     = errors.New("operation not allowed in current state")
	ErrNoPendingRequest = errors.New("no pending ride request")
	ErrRideUnavailable  = errors.New("ride request is no longer available")
	ErrStopped          = errors.New("coordinator stopped")
)

// BackendError wraps a failed backend call. The session is unchanged when
// one is returned.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *BackendError) Unwrap() error { return e.Err }

func stateError(op string, s State) error {
	return fmt.Errorf("%s in %s: %w", op, s, ErrInvalidState)
}
