// Package local implements the local cache store: a namespaced, synchronous key-value
// persistence layer holding one JSON array of records per collection.
package local

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Medium is synchronous durable key-value storage.
type Medium interface {
	// Get returns the value under key; ok is false when the key was never written.
	Get(key string) (value []byte, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key; removing a missing key is not an error.
	Delete(key string) error
	// Keys lists keys starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
}

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Options selects and configures a medium.
type Options struct {
	Driver        string
	Dir           string // file driver
	RedisAddr     string // redis driver
	RedisPassword string
	RedisDB       int
	Timeout       time.Duration // redis per-call timeout
}

// Open builds the medium named by opts.Driver. An empty driver means file.
func Open(ctx context.Context, opts Options) (Medium, error) {
	switch opts.Driver {
	case "", DriverFile:
		if opts.Dir == "" {
			return nil, fmt.Errorf("file medium: empty dir")
		}
		return NewFileMedium(opts.Dir), nil
	case DriverRedis:
		return NewRedisMedium(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Timeout:  opts.Timeout,
		})
	case DriverMemory:
		return NewMemoryMedium(), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", opts.Driver)
	}
}

// MemoryMedium keeps values in process memory.
type MemoryMedium struct {
	mu   sync.RWMutex
	vals map[string][]byte
}

// NewMemoryMedium returns an empty in-memory medium.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{vals: make(map[string][]byte)}
}

func (m *MemoryMedium) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryMedium) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryMedium) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

func (m *MemoryMedium) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vals))
	for k := range m.vals {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
