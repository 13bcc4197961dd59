package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding window and lockout, shared by
// every server instance using the same database.
type PG struct {
	pool     Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// Querier is satisfied by *pgxpool.Pool, a single connection and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over any pool or connection.
func NewPG(q Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether an attempt is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, scope string, peerHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE scope=$1 AND peer_hash=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, scope, peerHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (scope, peer).
func (l *PG) Success(ctx context.Context, scope string, peerHash []byte) error {
	const q = `
INSERT INTO auth_limiter (scope, peer_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (scope, peer_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, scope, peerHash)
	return err
}

// Failure records a failed attempt; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, scope string, peerHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_limiter (scope, peer_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (scope, peer_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - auth_limiter.updated_at > $3::interval THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, scope, peerHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails >= l.maxFails {
		blockUntil := l.now().Add(l.blockFor)
		const upd = `UPDATE auth_limiter SET blocked_until=$3 WHERE scope=$1 AND peer_hash=$2`
		if _, err := l.pool.Exec(ctx, upd, scope, peerHash, blockUntil); err != nil {
			return false, 0, err
		}
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
