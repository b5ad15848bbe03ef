package respwire

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for specific failure scenarios
var (
	// ErrNotConnected indicates the connection was lost or never established
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidCommand indicates a request with no arguments or an
	// argument of an unsupported type
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates the client has been closed
	ErrClosed = errors.New("client is closed")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ReplyError is an error reply sent by the server. The connection stays
// usable after it.
type ReplyError struct {
	Message string
}

// Error implements the error interface
func (e *ReplyError) Error() string {
	return e.Message
}

// Prefix returns the error code, the first word of the message, such as
// ERR or WRONGTYPE
func (e *ReplyError) Prefix() string {
	if i := strings.IndexByte(e.Message, ' '); i >= 0 {
		return e.Message[:i]
	}
	return e.Message
}
