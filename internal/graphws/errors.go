package graphws

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownID is the cause of a connection failure when the server answers an id
	// that is not pending.
	ErrUnknownID   = errors.New("graphws: response for unknown request id")
	ErrDuplicateID = errors.New("graphws: duplicate request id")
	ErrNotOpen     = errors.New("graphws: connection is not open")
	ErrClosed      = errors.New("graphws: connection closed")
	ErrEmpty       = errors.New("graphws: response carried no value")
)

// ConnError is delivered to every pending request when the connection fails or is
// closed. Cause is ErrClosed for an explicit Close.
type ConnError struct {
	Cause error
}

func (e *ConnError) Error() string {
	return "graphws: connection failed: " + e.Cause.Error()
}

func (e *ConnError) Unwrap() error { return e.Cause }

// ProtocolError fails a single request whose responses break the framing rules.
type ProtocolError struct {
	ID     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("graphws: protocol violation for request %s: %s", e.ID, e.Reason)
}
