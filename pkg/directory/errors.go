package directory

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a query runs before Connect, or
// after the connection was torn down.
var ErrNotConnected = errors.New("directory connection is not established")

// ConnectionError wraps a failure to dial or bind. It aborts a sync run
// before any reconciliation happens.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to directory %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Error wraps any provider-level fault from a directory query so that
// callers never see ldap-native error types.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("directory %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	return &Error{Op: op, Err: err}
}
