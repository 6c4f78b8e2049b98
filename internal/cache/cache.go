// Package cache provides the terminal-result cache. Tasks never leave
// a terminal state, so once a task is completed, failed or cancelled
// its record is immutable and safe to serve without touching the store.
package cache

import (
	"context"
	"sync"
	"time"
)

// Backend is the storage interface for cached values.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string)
	Close() error
}

// Noop is the backend used when caching is disabled.
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (Noop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (Noop) Delete(ctx context.Context, key string) {}
func (Noop) Close() error                           { return nil }

// Compile-time interface checks.
var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*Redis)(nil)
	_ Backend = Noop{}
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Backend with TTL eviction.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory backend. A janitor goroutine evicts
// expired entries every cleanupPeriod; zero takes a default of 5m.
func NewMemory(cleanupPeriod time.Duration) *Memory {
	if cleanupPeriod <= 0 {
		cleanupPeriod = 5 * time.Minute
	}
	m := &Memory{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go m.janitor(cleanupPeriod)
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.Delete(ctx, key)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Close stops the janitor goroutine.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) janitor(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
