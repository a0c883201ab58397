package bus

import "errors"

// Sentinel errors for bus operations.
var (
	// ErrTransport wraps every connect, publish and subscribe failure.
	ErrTransport = errors.New("transport error")
	// ErrClosed is returned once the connection has been disconnected.
	ErrClosed = errors.New("bus closed")
	// ErrConnectionLost is reported to OnConnectionLost listeners.
	ErrConnectionLost = errors.New("connection lost")
)
