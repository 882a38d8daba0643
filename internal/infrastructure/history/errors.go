package history

import "errors"

var (
	// ErrDisabled indicates history recording is turned off in config.
	ErrDisabled = errors.New("history: disabled")

	// ErrNotConnected indicates the client has no active connection.
	ErrNotConnected = errors.New("history: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("history: connection failed")
)
