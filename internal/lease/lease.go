// Package lease implements a TTL-bound advisory lock shared by every process
// that opens the same local store. A lease whose holder stopped refreshing it
// is treated as abandoned once its TTL has passed.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/localstore"
)

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 15 * time.Second

// Lease is a named advisory lock bound to one owner.
type Lease struct {
	backend localstore.Leaser
	name    string
	owner   string
	ttl     time.Duration
	now     func() time.Time
}

// Option customizes a Lease.
type Option func(*Lease)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(l *Lease) { l.now = now } }

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Lease) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// New builds a lease called name held on behalf of owner.
func New(backend localstore.Leaser, name, owner string, opts ...Option) *Lease {
	l := &Lease{backend: backend, name: name, owner: owner, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Acquire takes the lease or returns errs.ErrLeaseHeld when another live
// owner has it. Calling Acquire again while holding it refreshes the TTL.
func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.backend.TryAcquire(ctx, l.name, l.owner, l.now(), l.ttl)
	if err != nil {
		return fmt.Errorf("lease %s: %w", l.name, err)
	}
	if !ok {
		return fmt.Errorf("lease %s: %w", l.name, errs.ErrLeaseHeld)
	}
	return nil
}

// Release gives the lease up. Releasing a lease one does not hold is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.backend.Release(ctx, l.name, l.owner); err != nil {
		return fmt.Errorf("lease %s: %w", l.name, err)
	}
	return nil
}

// Owner returns the owner token.
func (l *Lease) Owner() string { return l.owner }

// TTL returns the lease duration.
func (l *Lease) TTL() time.Duration { return l.ttl }
