package storage

import "errors"

// Domain errors for the storage package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, storage.ErrUnknownEngine) {
//	    // handle misconfiguration
//	}
var (
	// ErrUnknownEngine is returned when the configured engine name is not recognised.
	ErrUnknownEngine = errors.New("storage: unknown engine")

	// ErrClosed is returned for operations on a closed backend.
	ErrClosed = errors.New("storage: backend closed")
)
