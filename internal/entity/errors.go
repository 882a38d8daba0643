package entity

import "errors"

var (
	// ErrEntityExists indicates a unique id is already registered with a
	// conflicting declaration. Creating the same entity twice with the
	// same domain returns the existing handle instead.
	ErrEntityExists = errors.New("entity: unique id already registered")

	// ErrDomainExists indicates a domain name is already registered.
	ErrDomainExists = errors.New("entity: domain already registered")

	// ErrInvalidDomain indicates a domain declaration failed validation.
	ErrInvalidDomain = errors.New("entity: invalid domain declaration")

	// ErrInvalidOptions indicates entity options failed validation.
	ErrInvalidOptions = errors.New("entity: invalid entity options")

	// ErrUnknownKey indicates a key that is not declared for the domain.
	ErrUnknownKey = errors.New("entity: unknown key")

	// ErrImmutableKey indicates a write to a key fixed at creation time.
	ErrImmutableKey = errors.New("entity: immutable key")

	// ErrReadOnlyKey indicates a write to a static or reactive key,
	// which only the runtime itself may mutate.
	ErrReadOnlyKey = errors.New("entity: key is read-only")

	// ErrNotReactive indicates a scheduler registration for a key that
	// is not declared reactive.
	ErrNotReactive = errors.New("entity: key is not reactive")

	// ErrLocalsNotLoaded indicates a locals delete before the cache
	// finished its one-time load from storage.
	ErrLocalsNotLoaded = errors.New("entity: locals not loaded")

	// ErrDeviceExists indicates a device id is already registered.
	ErrDeviceExists = errors.New("entity: device already registered")

	// ErrClosed indicates the runtime has been shut down.
	ErrClosed = errors.New("entity: runtime closed")
)
