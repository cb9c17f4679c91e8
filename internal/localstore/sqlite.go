package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/and161185/quizdeck/internal/errs"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS leases (
		name       TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

// pragmas are applied by the driver to every new connection.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SQLite is a Store backed by a single SQLite file, shared by every process
// of the same client.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the store at path.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps the lease upsert atomic across goroutines of this process
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

// querier is satisfied by *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlKV struct{ q querier }

func (k sqlKV) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := k.q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (k sqlKV) Set(ctx context.Context, key string, val []byte) error {
	const q = `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if val == nil {
		val = []byte{}
	}
	if _, err := k.q.ExecContext(ctx, q, key, val, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (k sqlKV) Remove(ctx context.Context, key string) error {
	if _, err := k.q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Get implements KV.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	return sqlKV{s.db}.Get(ctx, key)
}

// Set implements KV.
func (s *SQLite) Set(ctx context.Context, key string, val []byte) error {
	return sqlKV{s.db}.Set(ctx, key, val)
}

// Remove implements KV.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	return sqlKV{s.db}.Remove(ctx, key)
}

// Update implements KV with BEGIN IMMEDIATE on a pinned connection, which
// takes the database write lock up front so that a concurrent writer waits
// on busy_timeout instead of failing at commit. fn must not use s directly.
func (s *SQLite) Update(ctx context.Context, fn func(tx Tx) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()
	if err := fn(sqlKV{conn}); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// TryAcquire implements Leaser with a single conditional upsert, so two
// processes racing for the same lease cannot both win.
func (s *SQLite) TryAcquire(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	const q = `
INSERT INTO leases (name, owner, expires_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
WHERE leases.expires_at <= ? OR leases.owner = excluded.owner`
	res, err := s.db.ExecContext(ctx, q, name, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return n == 1, nil
}

// Release implements Leaser.
func (s *SQLite) Release(ctx context.Context, name, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
