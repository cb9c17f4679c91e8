package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/quizdeck/internal/errs"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "qd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": sq}
}

func TestKV_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, errs.ErrNotFound)

			require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`)))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			require.JSONEq(t, `{"a":1}`, string(got))

			require.NoError(t, s.Set(ctx, "k", []byte(`[]`)))
			got, err = s.Get(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, "[]", string(got))

			require.NoError(t, s.Remove(ctx, "k"))
			require.NoError(t, s.Remove(ctx, "k"))
			_, err = s.Get(ctx, "k")
			require.ErrorIs(t, err, errs.ErrNotFound)
		})
	}
}

func TestUpdate_CommitsOrRollsBack(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "keep", []byte("1")))

			err := s.Update(ctx, func(tx Tx) error {
				require.NoError(t, tx.Set(ctx, "keep", []byte("2")))
				require.NoError(t, tx.Set(ctx, "new", []byte("x")))
				return boom
			})
			require.ErrorIs(t, err, boom)
			got, err := s.Get(ctx, "keep")
			require.NoError(t, err)
			require.Equal(t, "1", string(got))
			_, err = s.Get(ctx, "new")
			require.ErrorIs(t, err, errs.ErrNotFound)

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				v, err := tx.Get(ctx, "keep")
				if err != nil {
					return err
				}
				if err := tx.Set(ctx, "copy", v); err != nil {
					return err
				}
				if err := tx.Remove(ctx, "keep"); err != nil {
					return err
				}
				_, err = tx.Get(ctx, "keep")
				require.ErrorIs(t, err, errs.ErrNotFound, "removal is visible inside the transaction")
				return nil
			}))
			got, err = s.Get(ctx, "copy")
			require.NoError(t, err)
			require.Equal(t, "1", string(got))
			_, err = s.Get(ctx, "keep")
			require.ErrorIs(t, err, errs.ErrNotFound)
		})
	}
}

// incr adds one to the counter under key inside a single Update.
func incr(ctx context.Context, kv KV, key string) error {
	return kv.Update(ctx, func(tx Tx) error {
		n := 0
		raw, err := tx.Get(ctx, key)
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			return err
		default:
			if n, err = strconv.Atoi(string(raw)); err != nil {
				return err
			}
		}
		return tx.Set(ctx, key, []byte(strconv.Itoa(n+1)))
	})
}

func TestSQLite_UpdateIsAtomicAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qd.db")
	a, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer b.Close()

	const rounds = 25
	var wg sync.WaitGroup
	errc := make(chan error, 2*rounds)
	for _, h := range []*SQLite{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				if err := incr(ctx, h, "n"); err != nil {
					errc <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	got, err := a.Get(ctx, "n")
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(2*rounds), string(got), "no increment may be lost")
}

func TestDSN(t *testing.T) {
	require.Equal(t, "/tmp/qd.db?"+pragmas, dsn("/tmp/qd.db"))
	require.Equal(t, "file:qd.db?mode=rwc&"+pragmas, dsn("file:qd.db?mode=rwc"))
}

func TestLeaser_ExclusiveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	ttl := 15 * time.Second

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.TryAcquire(ctx, "flush", "tab-1", now, ttl)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = s.TryAcquire(ctx, "flush", "tab-2", now.Add(5*time.Second), ttl)
			require.NoError(t, err)
			require.False(t, ok, "live lease must not be stolen")

			ok, err = s.TryAcquire(ctx, "flush", "tab-1", now.Add(5*time.Second), ttl)
			require.NoError(t, err)
			require.True(t, ok, "owner may refresh")

			ok, err = s.TryAcquire(ctx, "flush", "tab-2", now.Add(21*time.Second), ttl)
			require.NoError(t, err)
			require.True(t, ok, "stale lease is reacquired")

			require.NoError(t, s.Release(ctx, "flush", "tab-1"), "release by non-owner is a no-op")
			ok, err = s.TryAcquire(ctx, "flush", "tab-3", now.Add(22*time.Second), ttl)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Release(ctx, "flush", "tab-2"))
			ok, err = s.TryAcquire(ctx, "flush", "tab-3", now.Add(22*time.Second), ttl)
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qd.db")

	s1, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "quizdeck.outbox", []byte(`[{"id":"r1"}]`)))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(ctx, "quizdeck.outbox")
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"r1"}]`, string(got))
}

func TestSQLite_TwoHandlesShareLeases(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qd.db")
	a, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer b.Close()

	now := time.Now()
	ok, err := a.TryAcquire(ctx, "flush", "proc-a", now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(ctx, "flush", "proc-b", now, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
