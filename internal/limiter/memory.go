package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter. Lockouts are not shared between server
// instances and reset on restart.
type Memory struct {
	mu       sync.Mutex
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
	entries  map[string]*entry
}

type entry struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// NewMemory constructs an in-memory limiter with the same semantics as PG.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now, entries: map[string]*entry{}}
}

func key(scope string, peerHash []byte) string { return scope + "\x00" + string(peerHash) }

func (m *Memory) Allow(_ context.Context, scope string, peerHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(scope, peerHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, scope string, peerHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key(scope, peerHash))
	return nil
}

func (m *Memory) Failure(_ context.Context, scope string, peerHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := key(scope, peerHash)
	e, ok := m.entries[k]
	if !ok || now.Sub(e.updatedAt) > m.window {
		e = &entry{}
		m.entries[k] = e
	}
	e.fails++
	e.updatedAt = now
	if e.fails >= m.maxFails {
		e.blockedUntil = now.Add(m.blockFor)
		return true, m.blockFor, nil
	}
	return false, 0, nil
}
