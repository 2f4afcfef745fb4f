package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/newthinker/dexfeed/internal/clock"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/storage/blob"
)

// envelope is the persisted form of a cache entry
type envelope struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// BlobStore persists entries in a blob.Storage so they survive restarts.
// Writes and sweep deletions are serialized within the process.
type BlobStore struct {
	storage blob.Storage
	clock   clock.Clock
	mu      sync.Mutex
}

// NewBlobStore wraps storage
func NewBlobStore(storage blob.Storage, clk clock.Clock) *BlobStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &BlobStore{storage: storage, clock: clk}
}

func (b *BlobStore) SetWithTTL(ctx context.Context, key Key, ttl time.Duration, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	data, err := json.Marshal(envelope{ExpiresAt: b.clock.Now().Add(ttl), Value: value})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.storage.Write(ctx, key.String(), data)
}

func (b *BlobStore) Get(ctx context.Context, key Key) ([]byte, error) {
	value, _, err := b.Lookup(ctx, key)
	return value, err
}

// Lookup returns the value and its expiry
func (b *BlobStore) Lookup(ctx context.Context, key Key) ([]byte, time.Time, error) {
	data, err := b.storage.Read(ctx, key.String())
	if errors.Is(err, blob.ErrNotFound) {
		return nil, time.Time{}, core.ErrCacheMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, core.WrapError(core.ErrValidation, fmt.Errorf("decoding cache entry %s: %w", key, err))
	}
	if !b.clock.Now().Before(env.ExpiresAt) {
		return nil, time.Time{}, core.ErrCacheMiss
	}
	return env.Value, env.ExpiresAt, nil
}

func (b *BlobStore) Delete(ctx context.Context, key Key) error {
	return b.storage.Delete(ctx, key.String())
}

// Sweep deletes expired or unreadable entries under prefix and returns how
// many were removed. Each candidate is re-read under the write lock before
// deletion, so an entry refreshed mid-sweep survives.
func (b *BlobStore) Sweep(ctx context.Context, prefix string) (int, error) {
	paths, err := b.storage.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	now := b.clock.Now()
	removed := 0
	for _, path := range paths {
		data, err := b.storage.Read(ctx, path)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if !expired(data, now) {
			continue
		}
		ok, err := b.deleteIfExpired(ctx, path, now)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (b *BlobStore) deleteIfExpired(ctx context.Context, path string, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.storage.Read(ctx, path)
	if errors.Is(err, blob.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !expired(data, now) {
		return false, nil
	}
	if err := b.storage.Delete(ctx, path); err != nil {
		return false, err
	}
	return true, nil
}

// expired reports whether a persisted entry is past its expiry or unreadable
func expired(data []byte, now time.Time) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return true
	}
	return !now.Before(env.ExpiresAt)
}
