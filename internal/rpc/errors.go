package rpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for correlated calls.
var (
	// ErrTimeout means no correlated response arrived before the deadline.
	ErrTimeout = errors.New("correlated call timed out")
	// ErrRemote means the remote side answered on its error topic.
	ErrRemote = errors.New("remote error")
	// ErrNotStarted is returned by Call before Start has succeeded.
	ErrNotStarted = errors.New("tracker not started")
)

// RemoteError carries a failure reported by the remote side, including the
// fallback value it suggested.
type RemoteError struct {
	Message  string
	Fallback string
}

func (e *RemoteError) Error() string {
	if e.Fallback != "" {
		return fmt.Sprintf("remote error: %s (fallback %q)", e.Message, e.Fallback)
	}
	return "remote error: " + e.Message
}

// Unwrap lets errors.Is(err, ErrRemote) match.
func (e *RemoteError) Unwrap() error {
	return ErrRemote
}
