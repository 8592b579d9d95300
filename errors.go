package relaycall

import "errors"

// Sentinel errors for engine construction and lifecycle.
var (
	// ErrMissingIdentity indicates the engine was created without a server
	// address or local user identity.
	ErrMissingIdentity = errors.New("server url and user id are required")

	// ErrEngineClosed indicates an operation on a closed engine.
	ErrEngineClosed = errors.New("engine closed")
)
