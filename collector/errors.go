package collector

import (
	"errors"
	"fmt"
)

var (
	// ErrInventoryEmpty is returned when the inventory is missing, unreadable or
	// has no devices. Nothing is collected or persisted.
	ErrInventoryEmpty = errors.New("inventory empty")
	// ErrPersistence is returned when the report could not be written by the sink.
	ErrPersistence = errors.New("persistence failure")
)

// ErrorKind separates transport failures from everything else that can go
// wrong while probing a single device.
type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindUnexpected ErrorKind = "unexpected"
)

// ProbeError is a per-device failure. It never escapes Collect; it is folded
// into the DeviceResult for that device.
type ProbeError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	switch e.Kind {
	case ErrorKindNetwork:
		return fmt.Sprintf("connection error: %v", e.Err)
	default:
		return fmt.Sprintf("unexpected error: %v", e.Err)
	}
}

func (e *ProbeError) Unwrap() error { return e.Err }

func networkError(err error) *ProbeError {
	return &ProbeError{Kind: ErrorKindNetwork, Err: err}
}

func unexpectedError(err error) *ProbeError {
	return &ProbeError{Kind: ErrorKindUnexpected, Err: err}
}

// persistenceError tags a sink failure so callers can map it to an exit code.
func persistenceError(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
