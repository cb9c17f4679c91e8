// Package localstore provides the client's durable key-value byte store and
// the lease table used for cross-process advisory locking.
package localstore

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/quizdeck/internal/errs"
)

// Tx reads and writes keys.
type Tx interface {
	// Get returns the value stored under key or errs.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores val under key, replacing any previous value.
	Set(ctx context.Context, key string, val []byte) error
	// Remove deletes key; removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// KV is a small durable key-value byte store.
type KV interface {
	Tx
	// Update runs fn as one transaction. Other writers on the same storage,
	// in this process or another, wait until it ends. Writes made through tx
	// are discarded when fn returns an error, which Update returns as is.
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Leaser grants named, owner-bound leases with an expiry.
type Leaser interface {
	// TryAcquire takes the lease if it is free, expired at now, or already
	// held by owner. It reports whether owner now holds the lease.
	TryAcquire(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error)
	// Release frees the lease if owner holds it.
	Release(ctx context.Context, name, owner string) error
}

// Store is a KV that also hands out leases.
type Store interface {
	KV
	Leaser
	Close() error
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// Memory is an in-process Store used by tests and ephemeral sessions.
type Memory struct {
	mu     sync.Mutex
	data   map[string][]byte
	leases map[string]lease
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}, leases: map[string]lease{}}
}

// Get implements KV.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements KV.
func (m *Memory) Set(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), val...)
	return nil
}

// Remove implements KV.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Update implements KV. fn must not call back into m.
func (m *Memory) Update(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{data: m.data, staged: map[string][]byte{}, removed: map[string]bool{}}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.removed {
		delete(m.data, k)
	}
	for k, v := range tx.staged {
		m.data[k] = v
	}
	return nil
}

// memTx buffers writes until the Update commits.
type memTx struct {
	data    map[string][]byte
	staged  map[string][]byte
	removed map[string]bool
}

func (t *memTx) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := t.staged[key]; ok {
		return append([]byte(nil), v...), nil
	}
	v, ok := t.data[key]
	if !ok || t.removed[key] {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTx) Set(_ context.Context, key string, val []byte) error {
	delete(t.removed, key)
	t.staged[key] = append([]byte(nil), val...)
	return nil
}

func (t *memTx) Remove(_ context.Context, key string) error {
	delete(t.staged, key)
	t.removed[key] = true
	return nil
}

// TryAcquire implements Leaser.
func (m *Memory) TryAcquire(_ context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[name]
	if ok && cur.owner != owner && cur.expiresAt.After(now) {
		return false, nil
	}
	m.leases[name] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release implements Leaser.
func (m *Memory) Release(_ context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[name]; ok && cur.owner == owner {
		delete(m.leases, name)
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
