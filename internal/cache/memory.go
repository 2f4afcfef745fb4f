package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/dexfeed/internal/clock"
	"github.com/newthinker/dexfeed/internal/core"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process TTL store
type MemoryStore struct {
	clock   clock.Clock
	entries map[string]memoryEntry
	mu      sync.RWMutex
}

// NewMemoryStore creates a store that expires entries against clk
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) SetWithTTL(ctx context.Context, key Key, ttl time.Duration, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	m.setUntil(key, m.clock.Now().Add(ttl), value)
	return nil
}

func (m *MemoryStore) setUntil(key Key, expiresAt time.Time, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiresAt,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key.String()]
	m.mu.RUnlock()

	if !ok || !m.clock.Now().Before(e.expiresAt) {
		return nil, core.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
	return nil
}

// Sweep drops expired entries and returns how many were removed
func (m *MemoryStore) Sweep() int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
