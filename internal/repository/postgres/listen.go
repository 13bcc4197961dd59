package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangesChannel is the NOTIFY channel the change trigger publishes to.
const ChangesChannel = "content_changes"

// Listener opens notification streams. Each stream owns one connection.
type Listener interface {
	Listen(ctx context.Context, channel string) (NotificationStream, error)
}

// NotificationStream yields NOTIFY payloads until ctx is done or the connection fails.
type NotificationStream interface {
	Next(ctx context.Context) (string, error)
	Close()
}

// PoolListener issues LISTEN on a connection acquired from the pool.
type PoolListener struct{ pool *pgxpool.Pool }

// NewPoolListener wraps pool.
func NewPoolListener(pool *pgxpool.Pool) *PoolListener { return &PoolListener{pool: pool} }

func (l *PoolListener) Listen(ctx context.Context, channel string) (NotificationStream, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &poolStream{conn: conn}, nil
}

type poolStream struct{ conn *pgxpool.Conn }

func (s *poolStream) Next(ctx context.Context) (string, error) {
	n, err := s.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (s *poolStream) Close() {
	// A connection interrupted mid-wait is not safe to reuse.
	if s.conn.Conn().IsClosed() {
		s.conn.Release()
		return
	}
	if _, err := s.conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
		_ = s.conn.Conn().Close(context.Background())
	}
	s.conn.Release()
}
