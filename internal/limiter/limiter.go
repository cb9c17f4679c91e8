// Package limiter locks out clients that repeatedly present a wrong API key.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks bad API key attempts per client address.
type Limiter interface {
	// Allow reports whether requests from ipHash are accepted and, if not, for how long.
	Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error)
	// Success clears the failure count after a good key.
	Success(ctx context.Context, ipHash []byte) error
	// Failure records a bad key; it reports true once the address is blocked.
	Failure(ctx context.Context, ipHash []byte) (bool, time.Duration, error)
}
