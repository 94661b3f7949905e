package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key doesn't exist
	ErrNotFound = errors.New("store: not found")
	// ErrNotConnected is returned for operations on a closed driver
	ErrNotConnected = errors.New("store: not connected")
	// ErrUnsupported is returned when a driver lacks a capability
	ErrUnsupported = errors.New("store: unsupported operation")
	// ErrTransport is matched by every *TransportError
	ErrTransport = errors.New("store: transport error")
)

// TransportError wraps a failure reported by a backend transport.
type TransportError struct {
	Driver string
	Op     string
	Key    string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store: %s %s: %v", e.Driver, e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s %q: %v", e.Driver, e.Op, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func transportErr(driver, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Driver: driver, Op: op, Key: key, Err: err}
}
