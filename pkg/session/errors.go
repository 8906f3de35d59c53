package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrResourceBusy is matched by every ResourceBusyError.
	ErrResourceBusy = errors.New("session: resource busy")

	// ErrInitialization is matched by every InitializationError.
	ErrInitialization = errors.New("session: tracker failed to initialise")

	// ErrNotActive is returned by operations that need a running session.
	ErrNotActive = errors.New("session: no active session")

	// ErrNotCalibrating is returned by Acknowledge outside a calibration.
	ErrNotCalibrating = errors.New("session: not calibrating")

	// ErrNoMarker is returned when the marker file does not exist.
	ErrNoMarker = errors.New("session: no marker")

	// ErrStillAlive is returned when a process survives termination.
	ErrStillAlive = errors.New("session: process still alive after termination")
)

// ResourceBusyError reports a port or marker that is held and could not be
// taken over.
type ResourceBusyError struct {
	// Resource names what is held, e.g. "transport 127.0.0.1:8001".
	Resource string

	// PID is the holder when known, zero otherwise.
	PID int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ResourceBusyError) Error() string {
	if e.PID != 0 {
		return fmt.Sprintf("session: %s busy (pid %d): %v", e.Resource, e.PID, e.Err)
	}
	return fmt.Sprintf("session: %s busy: %v", e.Resource, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResourceBusyError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrResourceBusy) true.
func (e *ResourceBusyError) Is(target error) bool {
	return target == ErrResourceBusy
}

// InitializationError reports that the browser tracker could not start.
// It ends the session.
type InitializationError struct {
	Message string
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("session: tracker failed to initialise: %s", e.Message)
}

// Is makes errors.Is(err, ErrInitialization) true.
func (e *InitializationError) Is(target error) bool {
	return target == ErrInitialization
}
