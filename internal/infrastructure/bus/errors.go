package bus

import "errors"

// Domain-specific errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("bus: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("bus: connection failed")

	// ErrFireFailed is returned when publishing an event fails.
	ErrFireFailed = errors.New("bus: fire failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("bus: subscribe failed")

	// ErrInvalidEvent is returned when an empty event name is provided.
	ErrInvalidEvent = errors.New("bus: event name cannot be empty")
)
