package cache

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/dexfeed/internal/core"
	"go.uber.org/zap"
)

// TieredStore keeps a memory front over a persisted back tier. Reads that
// miss the front fall back to the persisted entry and re-warm the front
// with whatever TTL the entry has left, so a restart keeps serving the last
// good value until it expires.
type TieredStore struct {
	front  *MemoryStore
	back   *BlobStore
	logger *zap.Logger
}

// NewTieredStore creates a tiered store
func NewTieredStore(front *MemoryStore, back *BlobStore, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{front: front, back: back, logger: logger}
}

// SetWithTTL writes both tiers. The memory write always lands; a persisted
// write failure is returned so the handler can retry.
func (t *TieredStore) SetWithTTL(ctx context.Context, key Key, ttl time.Duration, value []byte) error {
	if err := t.front.SetWithTTL(ctx, key, ttl, value); err != nil {
		return err
	}
	return t.back.SetWithTTL(ctx, key, ttl, value)
}

func (t *TieredStore) Get(ctx context.Context, key Key) ([]byte, error) {
	value, err := t.front.Get(ctx, key)
	if err == nil {
		return value, nil
	}

	value, expiresAt, err := t.back.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrCacheMiss) {
			t.logger.Warn("persisted cache read failed", zap.Stringer("key", key), zap.Error(err))
			return nil, core.ErrCacheMiss
		}
		return nil, err
	}

	t.front.setUntil(key, expiresAt, value)
	return value, nil
}

func (t *TieredStore) Delete(ctx context.Context, key Key) error {
	t.front.Delete(ctx, key)
	return t.back.Delete(ctx, key)
}

// Front exposes the memory tier for sweeping
func (t *TieredStore) Front() *MemoryStore {
	return t.front
}
