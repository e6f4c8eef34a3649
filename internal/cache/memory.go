package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Memory is an in-process TTL cache.
type Memory[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	now   func() time.Time
}

func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{items: make(map[string]entry[V]), now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (m *Memory[V]) WithClock(now func() time.Time) *Memory[V] {
	m.now = now
	return m
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (m *Memory[V]) Set(_ context.Context, key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.items[key] = entry[V]{value: v, expires: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory[V]) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Purge drops expired entries.
func (m *Memory[V]) Purge() {
	now := m.now()
	m.mu.Lock()
	for k, e := range m.items {
		if !now.Before(e.expires) {
			delete(m.items, k)
		}
	}
	m.mu.Unlock()
}
