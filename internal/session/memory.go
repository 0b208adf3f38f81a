package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryKV is a bounded in-process KV. It only guarantees turn-taking inside
// one process, so it is meant for development and single-replica setups.
type MemoryKV struct {
	mu    sync.Mutex
	cache *lru.Cache[string, memoryEntry]
	now   func() time.Time
}

func NewMemoryKV(size int) (*MemoryKV, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	return &MemoryKV{cache: cache, now: time.Now}, nil
}

// lookup must be called with mu held.
func (m *MemoryKV) lookup(key string) (memoryEntry, bool) {
	e, ok := m.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(m.now()) {
		m.cache.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryKV) store(key, value string, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.cache.Add(key, e)
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	return e.value, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store(key, value, ttl)
	return nil
}

func (m *MemoryKV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.store(key, value, ttl)
	return true, nil
}

func (m *MemoryKV) CompareAndSwap(_ context.Context, key, old, next string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	current := ""
	if ok {
		current = e.value
	}
	if current != old {
		return false, nil
	}
	m.store(key, next, ttl)
	return true, nil
}

func (m *MemoryKV) DeleteIfEquals(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	m.cache.Remove(key)
	return true, nil
}
