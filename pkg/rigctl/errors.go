package rigctl

import (
	"errors"
	"fmt"
)

// Launch errors. Fatal to a single launch attempt; the manager's reconnect
// loop decides whether to retry the launch+connect sequence.
var (
	ErrDaemonNotFound  = errors.New("rigctld binary not found")
	ErrPortUnavailable = errors.New("rigctld control port unavailable")
	ErrDaemonStartup   = errors.New("rigctld failed to start")
)

// Connection errors. Transient; they drive the reconnect loop.
var (
	ErrNotConnected   = errors.New("not connected to rigctld")
	ErrConnectionLost = errors.New("connection to rigctld lost")
	ErrTimeout        = errors.New("timeout waiting for rigctld response")
	ErrShuttingDown   = errors.New("manager is shutting down")
)

// ErrClosed is returned by Start after Stop has been called. Closed is
// terminal; a stopped manager cannot be restarted.
var ErrClosed = errors.New("manager is closed")

// ProtocolError is a nonzero RPRT code reported by rigctld. It is local to
// the offending command and does not affect connection state.
type ProtocolError struct {
	Code int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rigctld reported error: RPRT %d", e.Code)
}

// MalformedResponseError indicates a response whose payload could not be
// parsed for the submitted command.
type MalformedResponseError struct {
	Line   string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed rigctld response %q: %s", e.Line, e.Reason)
}

// RadioError is the uniform failure returned by the radio control facade.
// It wraps the underlying protocol, connection, or validation error.
type RadioError struct {
	Op  string
	Err error
}

func (e *RadioError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RadioError) Unwrap() error {
	return e.Err
}
