package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/dexfeed/internal/clock/fake"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/storage/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var levelsKey = Key{Consumer: "native", Network: core.NetworkArbitrum, Name: "levels"}

func TestKey(t *testing.T) {
	assert.Equal(t, "native/42161/levels", levelsKey.String())
	assert.NoError(t, levelsKey.Validate())

	assert.Error(t, Key{Consumer: "native", Name: "levels"}.Validate(), "network required")
	assert.Error(t, Key{Consumer: "native", Network: 1, Name: "../x"}.Validate())
	assert.Error(t, Key{Consumer: "a/b", Network: 1, Name: "x"}.Validate())
}

func TestValidateTTL(t *testing.T) {
	assert.NoError(t, ValidateTTL(30*time.Second, time.Second))
	err := ValidateTTL(time.Second, time.Second)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestMemoryStore_Expiry(t *testing.T) {
	clk := fake.New(time.Time{})
	m := NewMemoryStore(clk)
	ctx := context.Background()

	_, err := m.Get(ctx, levelsKey)
	assert.True(t, errors.Is(err, core.ErrCacheMiss))

	require.NoError(t, m.SetWithTTL(ctx, levelsKey, 2*time.Second, []byte("v1")))
	got, err := m.Get(ctx, levelsKey)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	clk.Advance(1999 * time.Millisecond)
	_, err = m.Get(ctx, levelsKey)
	assert.NoError(t, err)

	clk.Advance(time.Millisecond)
	_, err = m.Get(ctx, levelsKey)
	assert.True(t, errors.Is(err, core.ErrCacheMiss), "expired values are never returned")

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_Rejects(t *testing.T) {
	m := NewMemoryStore(nil)
	ctx := context.Background()
	assert.Error(t, m.SetWithTTL(ctx, levelsKey, 0, []byte("x")))
	assert.Error(t, m.SetWithTTL(ctx, Key{}, time.Second, []byte("x")))
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	m := NewMemoryStore(fake.New(time.Time{}))
	ctx := context.Background()

	buf := []byte("abc")
	m.SetWithTTL(ctx, levelsKey, time.Minute, buf)
	buf[0] = 'x'

	got, _ := m.Get(ctx, levelsKey)
	assert.Equal(t, "abc", string(got))
}

func newBlobStore(t *testing.T, clk *fake.Clock) *BlobStore {
	t.Helper()
	fs, err := blob.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	return NewBlobStore(fs, clk)
}

func TestBlobStore_RoundTripAndExpiry(t *testing.T) {
	clk := fake.New(time.Unix(1_700_000_000, 0))
	b := newBlobStore(t, clk)
	ctx := context.Background()

	require.NoError(t, b.SetWithTTL(ctx, levelsKey, 10*time.Second, []byte(`{"a":1}`)))

	value, expiresAt, err := b.Lookup(ctx, levelsKey)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(value))
	assert.Equal(t, clk.Now().Add(10*time.Second).Unix(), expiresAt.Unix())

	clk.Advance(10 * time.Second)
	_, err = b.Get(ctx, levelsKey)
	assert.True(t, errors.Is(err, core.ErrCacheMiss))

	removed, err := b.Sweep(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

// hookedStorage runs onRead once, after the first Read returns
type hookedStorage struct {
	blob.Storage
	once   sync.Once
	onRead func()
}

func (h *hookedStorage) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := h.Storage.Read(ctx, path)
	h.once.Do(h.onRead)
	return data, err
}

func TestBlobStore_SweepKeepsEntryRefreshedMidSweep(t *testing.T) {
	clk := fake.New(time.Unix(1_700_000_000, 0))
	fs, err := blob.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	hooked := &hookedStorage{Storage: fs}
	b := NewBlobStore(hooked, clk)
	ctx := context.Background()

	require.NoError(t, b.SetWithTTL(ctx, levelsKey, time.Second, []byte(`"stale"`)))
	clk.Advance(2 * time.Second)

	// A poller rewrites the entry between the sweep's first read and its delete.
	hooked.onRead = func() {
		require.NoError(t, b.SetWithTTL(ctx, levelsKey, 10*time.Second, []byte(`"fresh"`)))
	}

	removed, err := b.Sweep(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	got, err := b.Get(ctx, levelsKey)
	require.NoError(t, err)
	assert.Equal(t, `"fresh"`, string(got))
}

func TestTieredStore_FallsBackToPersistedTier(t *testing.T) {
	clk := fake.New(time.Unix(1_700_000_000, 0))
	back := newBlobStore(t, clk)
	ctx := context.Background()

	first := NewTieredStore(NewMemoryStore(clk), back, nil)
	require.NoError(t, first.SetWithTTL(ctx, levelsKey, 30*time.Second, []byte("persisted")))

	// A fresh process: empty memory tier, same persisted tier.
	clk.Advance(10 * time.Second)
	front := NewMemoryStore(clk)
	second := NewTieredStore(front, back, nil)

	got, err := second.Get(ctx, levelsKey)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
	assert.Equal(t, 1, front.Len(), "memory tier re-warmed")

	// The re-warmed entry keeps the persisted expiry, not a fresh TTL.
	clk.Advance(20 * time.Second)
	_, err = front.Get(ctx, levelsKey)
	assert.True(t, errors.Is(err, core.ErrCacheMiss))
	_, err = second.Get(ctx, levelsKey)
	assert.True(t, errors.Is(err, core.ErrCacheMiss))
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    Store
}

func (f *flakyStore) SetWithTTL(ctx context.Context, key Key, ttl time.Duration, value []byte) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return f.inner.SetWithTTL(ctx, key, ttl, value)
}

func (f *flakyStore) Get(ctx context.Context, key Key) ([]byte, error) {
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Delete(ctx context.Context, key Key) error {
	return f.inner.Delete(ctx, key)
}

type recordingWrites struct {
	errs []error
}

func (r *recordingWrites) ObserveCacheWrite(key Key, err error) {
	r.errs = append(r.errs, err)
}

type level struct {
	Price string `json:"price"`
}

func TestWriteHandler_RetriesThenReads(t *testing.T) {
	clk := fake.New(time.Time{})
	store := &flakyStore{failures: 2, inner: NewMemoryStore(clk)}
	obs := &recordingWrites{}

	h, err := NewWriteHandler[[]level](store, levelsKey, 30*time.Second, time.Second,
		WithRetry(3, time.Millisecond), WithWriteObserver(obs))
	require.NoError(t, err)
	assert.Equal(t, levelsKey, h.Key())
	assert.Equal(t, 30*time.Second, h.TTL())

	require.NoError(t, h.Handle(context.Background(), []level{{Price: "1.5"}}))
	assert.Equal(t, 3, store.calls)
	require.Len(t, obs.errs, 1)
	assert.NoError(t, obs.errs[0])

	got, err := Read[[]level](context.Background(), store, levelsKey)
	require.NoError(t, err)
	assert.Equal(t, []level{{Price: "1.5"}}, got)
}

func TestWriteHandler_GivesUp(t *testing.T) {
	store := &flakyStore{failures: 10, inner: NewMemoryStore(nil)}
	h, err := NewWriteHandler[int](store, levelsKey, time.Minute, time.Second, WithRetry(2, time.Millisecond))
	require.NoError(t, err)

	err = h.Handle(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestNewWriteHandler_ConfigErrors(t *testing.T) {
	store := NewMemoryStore(nil)

	_, err := NewWriteHandler[int](nil, levelsKey, time.Minute, time.Second)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	_, err = NewWriteHandler[int](store, Key{}, time.Minute, time.Second)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	_, err = NewWriteHandler[int](store, levelsKey, time.Second, 5*time.Second)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid), "ttl must exceed interval")
}

func TestRead_MissIsNoData(t *testing.T) {
	_, err := Read[int](context.Background(), NewMemoryStore(nil), levelsKey)
	assert.True(t, errors.Is(err, core.ErrNoData))
	assert.True(t, errors.Is(err, core.ErrCacheMiss))
}

func TestRead_CorruptEntry(t *testing.T) {
	m := NewMemoryStore(nil)
	m.SetWithTTL(context.Background(), levelsKey, time.Minute, []byte("{not json"))
	_, err := Read[[]level](context.Background(), m, levelsKey)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestNewSetHandler(t *testing.T) {
	var got map[string]struct{}
	handler := NewSetHandler(func(v []string) ([]string, error) {
		if len(v) == 0 {
			return nil, errors.New("empty blacklist")
		}
		return v, nil
	}, func(s map[string]struct{}) { got = s })

	require.NoError(t, handler(context.Background(), []string{"0xa", "0xb", "0xa"}))
	assert.Len(t, got, 2)

	assert.Error(t, handler(context.Background(), nil))
	assert.Len(t, got, 2, "setter untouched on derive error")
}
