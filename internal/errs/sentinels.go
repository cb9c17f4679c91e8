// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness violation (e.g., test name taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates a missing or wrong API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lock after repeated bad keys.
	ErrRateLimited = errors.New("rate limited")

	// ErrRemote indicates the backend answered {ok:false}.
	ErrRemote = errors.New("remote error")

	// ErrLeaseHeld indicates another process holds the advisory lease.
	ErrLeaseHeld = errors.New("lease held by another owner")
)
