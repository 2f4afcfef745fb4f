// Package cache is the TTL key-value collaborator that feed handlers write
// into and adapters read prices from.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/dexfeed/internal/core"
)

// Key addresses one cached value. Feeds own disjoint keys; nothing else
// serializes concurrent writers.
type Key struct {
	Consumer string       // adapter name, e.g. "native"
	Network  core.Network // chain the value belongs to
	Name     string       // feed-specific key, e.g. "levels"
}

// String renders the key as consumer/chainID/name
func (k Key) String() string {
	return k.Consumer + "/" + strconv.FormatUint(uint64(k.Network), 10) + "/" + k.Name
}

// Validate checks that every component is present and path-safe
func (k Key) Validate() error {
	if k.Consumer == "" || k.Name == "" || k.Network == 0 {
		return fmt.Errorf("incomplete cache key %q", k.String())
	}
	for _, part := range []string{k.Consumer, k.Name} {
		if strings.ContainsAny(part, "/\\") || part == "." || part == ".." {
			return fmt.Errorf("invalid cache key component %q", part)
		}
	}
	return nil
}

// Store is a TTL key-value store. Get never returns an expired value; it
// reports core.ErrCacheMiss instead.
type Store interface {
	SetWithTTL(ctx context.Context, key Key, ttl time.Duration, value []byte) error
	Get(ctx context.Context, key Key) ([]byte, error)
	Delete(ctx context.Context, key Key) error
}

// ValidateTTL enforces that a cached value outlives at least one missed tick
func ValidateTTL(ttl, interval time.Duration) error {
	if ttl <= interval {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("cache ttl %s must exceed poll interval %s", ttl, interval))
	}
	return nil
}
