// Package limiter throttles failed admin authentication attempts per peer.
package limiter

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

// Stores accepted by New.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Limiter controls authentication attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, scope string, peerHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, scope string, peerHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, scope string, peerHash []byte) (bool, time.Duration, error)
}

// HashPeer returns a stable hash for a peer address to avoid storing raw addresses.
func HashPeer(addr string) []byte {
	h := sha256.Sum256([]byte(addr))
	return h[:]
}

// New builds the limiter for store. The postgres store shares lockouts between
// server instances; memory keeps them per process and needs no q.
func New(store string, q Querier, window time.Duration, maxFails int, blockFor time.Duration) (Limiter, error) {
	switch store {
	case StorePostgres:
		if q == nil {
			return nil, fmt.Errorf("limiter: %s store needs a database", store)
		}
		return NewPG(q, window, maxFails, blockFor), nil
	case StoreMemory:
		return NewMemory(window, maxFails, blockFor), nil
	default:
		return nil, fmt.Errorf("limiter: unknown store %q", store)
	}
}
