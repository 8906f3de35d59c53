package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrConnection is matched by every ConnectionError.
	ErrConnection = errors.New("transport: connection failed")

	// ErrProducerBusy is the close reason sent to a second producer.
	ErrProducerBusy = errors.New("transport: producer already connected")

	// ErrNotListening is returned by Run before a successful Listen.
	ErrNotListening = errors.New("transport: not listening")
)

// ConnectionError reports that the gaze channel could not be bound or dialed.
type ConnectionError struct {
	// Op is "listen", "serve" or "dial".
	Op string

	// Addr is the address or URL involved.
	Addr string

	// Err is the underlying network error.
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConnection) true for any ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
