package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/newthinker/dexfeed/internal/core"
)

// WriteObserver is told about every cache write attempt sequence
type WriteObserver interface {
	ObserveCacheWrite(key Key, err error)
}

// WriteHandler serializes feed results into a Store under one key
type WriteHandler[T any] struct {
	store    Store
	key      Key
	ttl      time.Duration
	attempts uint
	initial  time.Duration
	observer WriteObserver
}

// WriteOption configures a WriteHandler
type WriteOption func(*writeOptions)

type writeOptions struct {
	attempts uint
	initial  time.Duration
	observer WriteObserver
}

// WithRetry sets the number of write attempts and the first backoff delay
func WithRetry(attempts uint, initial time.Duration) WriteOption {
	return func(o *writeOptions) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if initial > 0 {
			o.initial = initial
		}
	}
}

// WithWriteObserver reports write outcomes, e.g. to metrics
func WithWriteObserver(obs WriteObserver) WriteOption {
	return func(o *writeOptions) {
		o.observer = obs
	}
}

// NewWriteHandler creates a cache-write handler. ttl must exceed the feed
// interval so one failed tick does not expire the value.
func NewWriteHandler[T any](store Store, key Key, ttl, interval time.Duration, opts ...WriteOption) (*WriteHandler[T], error) {
	if store == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("cache store is required"))
	}
	if err := key.Validate(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if err := ValidateTTL(ttl, interval); err != nil {
		return nil, err
	}

	o := writeOptions{attempts: 3, initial: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	return &WriteHandler[T]{
		store:    store,
		key:      key,
		ttl:      ttl,
		attempts: o.attempts,
		initial:  o.initial,
		observer: o.observer,
	}, nil
}

// Key returns the cache key written by this handler
func (h *WriteHandler[T]) Key() Key {
	return h.key
}

// TTL returns the TTL applied to every write
func (h *WriteHandler[T]) TTL() time.Duration {
	return h.ttl
}

// Handle encodes v and stores it, retrying transient store failures
func (h *WriteHandler[T]) Handle(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", h.key, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initial

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := h.store.SetWithTTL(ctx, h.key, h.ttl, data)
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(h.attempts))

	if h.observer != nil {
		h.observer.ObserveCacheWrite(h.key, err)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", h.key, err)
	}
	return nil
}

// NewSetHandler builds a state-mutation handler: derive a set from each
// result and push it into a collection owned elsewhere through setter.
func NewSetHandler[T any, E comparable](derive func(T) ([]E, error), setter func(map[E]struct{})) func(context.Context, T) error {
	return func(ctx context.Context, v T) error {
		items, err := derive(v)
		if err != nil {
			return err
		}
		set := make(map[E]struct{}, len(items))
		for _, item := range items {
			set[item] = struct{}{}
		}
		setter(set)
		return nil
	}
}

// Read loads and decodes a cached value. An absent or expired entry is
// reported as core.ErrNoData; callers must not substitute defaults.
func Read[T any](ctx context.Context, store Store, key Key) (T, error) {
	var out T
	data, err := store.Get(ctx, key)
	if errors.Is(err, core.ErrCacheMiss) {
		return out, core.WrapError(core.ErrNoData, fmt.Errorf("%s: %w", key, err))
	}
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, core.WrapError(core.ErrValidation, fmt.Errorf("decoding %s: %w", key, err))
	}
	return out, nil
}
