package ipl

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no data arrived (or could be sent) in time.
	ErrTimeout = errors.New("transport timeout")
	// ErrIntegrity indicates a CRC-32 mismatch.
	ErrIntegrity = errors.New("crc mismatch")
	// ErrProtocol indicates an unexpected message id or malformed frame.
	ErrProtocol = errors.New("protocol error")
	// ErrNotConfigured indicates the send/receive functions are missing.
	ErrNotConfigured = errors.New("link not configured")
	// ErrHandlersFull indicates the handler list is full.
	ErrHandlersFull = errors.New("handler list full")
	// ErrHandlerExists indicates the message id already has a handler.
	ErrHandlerExists = errors.New("handler already registered")
)

// TransportError wraps a failure of the byte-level send/receive functions.
type TransportError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResultError indicates a request acknowledged with a failure result.
type ResultError struct {
	MessageID uint32
	Result    byte
}

// Error implements error.
func (e *ResultError) Error() string {
	return fmt.Sprintf("message 0x%04x failed with result %d", e.MessageID, e.Result)
}
