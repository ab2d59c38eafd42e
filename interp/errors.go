package interp

import (
	"errors"
	"fmt"

	"github.com/chazu/clientserver/stream"
)

var (
	ErrMalformedMessage    = errors.New("malformed message")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrNoRegisteredFactory = errors.New("no instance factories registered")
	ErrFactoryDidNotClaim  = errors.New("no factory claimed class")
	ErrUnknownHandle       = errors.New("unknown handle")
	ErrDuplicateHandle     = errors.New("handle already assigned")
	ErrNoCommandFunc       = errors.New("no command function for class")
	ErrCallbackFailed      = errors.New("command function failed")

	// ErrReservedHandle is returned by HandleTable when handle 0 is bound
	// or removed. Handle 0 always names the last result.
	ErrReservedHandle = errors.New("handle 0 is reserved for the last result")
)

// StreamError reports the message at which stream processing stopped.
// Messages before Index were applied and stay applied.
type StreamError struct {
	Index   int
	Command stream.Command
	// Diagnostic is the string carried by an Error last result, if any.
	Diagnostic string
	Err        error
}

func (e *StreamError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("message %d (%s): %v: %s", e.Index, e.Command, e.Err, e.Diagnostic)
	}
	return fmt.Sprintf("message %d (%s): %v", e.Index, e.Command, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
