package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps failure counters in the api_lockout table: a sliding window of
// failures and a block once the threshold is reached.
type PG struct {
	db       querier
	now      func() time.Time
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over any pool or connection.
func NewPG(db querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{db: db, now: time.Now, window: window, maxFails: maxFails, blockFor: blockFor}
}

// HashIP returns a stable hash of the host part of addr so raw addresses are
// never stored.
func HashIP(addr string) []byte {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	h := sha256.Sum256([]byte(addr))
	return h[:]
}

const (
	selBlock = `SELECT blocked_until FROM api_lockout WHERE ip_hash=$1`
	resetSQL = `
INSERT INTO api_lockout (ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,0,'epoch',now())
ON CONFLICT (ip_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	failSQL = `
INSERT INTO api_lockout (ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,1,'epoch',now())
ON CONFLICT (ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - api_lockout.updated_at > $2::interval THEN 1 ELSE api_lockout.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	blockSQL = `UPDATE api_lockout SET blocked_until=$2 WHERE ip_hash=$1`
)

// Allow reports whether ipHash is currently unblocked.
func (l *PG) Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, selBlock, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if left := blockedUntil.Sub(l.now()); left > 0 {
			return false, left, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets the counter for ipHash.
func (l *PG) Success(ctx context.Context, ipHash []byte) error {
	_, err := l.db.Exec(ctx, resetSQL, ipHash)
	return err
}

// Failure counts a bad key and blocks ipHash once maxFails is reached
// inside the window.
func (l *PG) Failure(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	var fails int
	if err := l.db.QueryRow(ctx, failSQL, ipHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	if _, err := l.db.Exec(ctx, blockSQL, ipHash, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
