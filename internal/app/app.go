package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/dexfeed/internal/adapter"
	"github.com/newthinker/dexfeed/internal/adapter/native"
	"github.com/newthinker/dexfeed/internal/adapter/renegade"
	"github.com/newthinker/dexfeed/internal/auth"
	"github.com/newthinker/dexfeed/internal/cache"
	"github.com/newthinker/dexfeed/internal/clock"
	"github.com/newthinker/dexfeed/internal/config"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/metrics"
	"github.com/newthinker/dexfeed/internal/poller"
	"github.com/newthinker/dexfeed/internal/storage/blob"
	"github.com/newthinker/dexfeed/internal/transport"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// drainTimeout bounds how long shutdown waits for in-flight cycles
const drainTimeout = 10 * time.Second

// App is the main application orchestrator: it owns the cache, the adapters
// and the lifecycle of every feed poller.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	clock     clock.Clock
	metrics   *metrics.Registry
	adapters  *adapter.Registry
	store     cache.Store
	memory    *cache.MemoryStore
	persisted *cache.BlobStore // nil for the memory backend

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// Option configures an App
type Option func(*options)

type options struct {
	clock     clock.Clock
	requester transport.Requester
}

// WithClock sets the clock used by pollers and the cache
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRequester replaces the HTTP requester built from config
func WithRequester(r transport.Requester) Option {
	return func(o *options) { o.requester = r }
}

// New validates cfg and builds the cache, transport, metrics and every
// enabled adapter.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    o.clock,
		metrics:  metrics.NewRegistry(),
		adapters: adapter.NewRegistry(),
	}

	if err := a.buildCache(); err != nil {
		return nil, err
	}

	requester := o.requester
	if requester == nil {
		requester = transport.NewHTTPRequester(
			transport.WithTimeout(cfg.Transport.Timeout),
			transport.WithRateLimit(cfg.Transport.RateLimit, cfg.Transport.Burst),
			transport.WithUserAgent(cfg.Transport.UserAgent),
			transport.WithMaxBodySize(cfg.Transport.MaxBodyBytes),
			transport.WithRoundTripper(metrics.Transport(a.metrics, nil)),
			transport.WithLogger(logger.Named("transport")),
		)
	}

	deps := adapter.Deps{
		Requester:      requester,
		Store:          a.store,
		Clock:          a.clock,
		Logger:         logger,
		Observer:       a.metrics,
		WriteObserver:  a.metrics,
		BlacklistSizes: a.metrics,
		WriteAttempts:  cfg.Cache.WriteAttempts,
	}
	if err := a.buildAdapters(deps); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) buildCache() error {
	a.memory = cache.NewMemoryStore(a.clock)

	var storage blob.Storage
	switch a.cfg.Cache.Backend {
	case "memory":
		a.store = a.memory
		return nil
	case "localfs":
		fs, err := blob.NewLocalFS(a.cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("creating local cache: %w", err)
		}
		storage = fs
	case "s3":
		s3cfg := a.cfg.Cache.S3
		s3, err := blob.NewS3(blob.S3Config{
			Bucket:    s3cfg.Bucket,
			Endpoint:  s3cfg.Endpoint,
			Region:    s3cfg.Region,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Prefix:    s3cfg.Prefix,
		})
		if err != nil {
			return fmt.Errorf("creating s3 cache: %w", err)
		}
		storage = s3
	}

	a.persisted = cache.NewBlobStore(storage, a.clock)
	a.store = cache.NewTieredStore(a.memory, a.persisted, a.logger.Named("cache"))
	return nil
}

func (a *App) buildAdapters(deps adapter.Deps) error {
	if n := a.cfg.Adapters.Native; n.Enabled {
		network, err := core.ParseNetwork(n.Network)
		if err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
		ad, err := native.New(native.Config{
			Network:           network,
			BaseURL:           n.BaseURL,
			APIKey:            n.APIKey,
			LevelsInterval:    n.LevelsInterval,
			BlacklistInterval: n.BlacklistInterval,
			TTLFactor:         n.TTLFactor,
		}, deps)
		if err != nil {
			return fmt.Errorf("creating native adapter: %w", err)
		}
		a.adapters.Register(ad)
	}

	if r := a.cfg.Adapters.Renegade; r.Enabled {
		network, err := core.ParseNetwork(r.Network)
		if err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
		ad, err := renegade.New(renegade.Config{
			Network:        network,
			BaseURL:        r.BaseURL,
			Credentials:    auth.Credentials{APIKey: r.APIKey, APISecret: r.APISecret},
			LevelsInterval: r.LevelsInterval,
			TokensInterval: r.TokensInterval,
			TTLFactor:      r.TTLFactor,
		}, deps)
		if err != nil {
			return fmt.Errorf("creating renegade adapter: %w", err)
		}
		a.adapters.Register(ad)
	}

	return nil
}

// Start warms every feed with a forced fetch, starts the pollers and runs
// the cache sweeper until ctx is cancelled or Stop is called. On the way
// out it stops every poller and waits for in-flight cycles.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app already running")
	}
	a.running = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	runners := a.adapters.Runners()
	a.logger.Info("dexfeed starting",
		zap.Int("adapters", len(a.adapters.GetAll())),
		zap.Int("feeds", len(runners)),
		zap.String("cache", a.cfg.Cache.Backend),
	)

	a.warmUp(ctx, runners)
	for _, r := range runners {
		r.Start(ctx)
	}
	a.metrics.SetFeedsActive(len(runners))

	ticker := time.NewTicker(a.cfg.Cache.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("dexfeed shutting down")
			a.shutdown(runners)
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return nil
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// Stop stops the application loop
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// warmUp runs one forced cycle per feed concurrently so pricing has data
// before the first tick.
func (a *App) warmUp(ctx context.Context, runners []poller.Runner) {
	var wg conc.WaitGroup
	for _, r := range runners {
		wg.Go(func() {
			res := r.Fetch(ctx, true)
			if res.Outcome != poller.OutcomeSucceeded {
				a.logger.Warn("warm-up failed; serving without data until the next tick",
					zap.String("feed", r.Name()),
					zap.Error(res.Err),
				)
			}
		})
	}
	wg.Wait()
}

func (a *App) shutdown(runners []poller.Runner) {
	for _, r := range runners {
		r.Stop()
	}
	a.metrics.SetFeedsActive(0)

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	var wg conc.WaitGroup
	for _, r := range runners {
		wg.Go(func() {
			if err := r.Wait(ctx); err != nil {
				a.logger.Warn("feed did not drain", zap.String("feed", r.Name()), zap.Error(err))
			}
		})
	}
	wg.Wait()
}

// sweep drops expired cache entries from both tiers
func (a *App) sweep(ctx context.Context) {
	removed := a.memory.Sweep()
	if a.persisted != nil {
		n, err := a.persisted.Sweep(ctx, "")
		if err != nil {
			a.logger.Warn("persisted cache sweep failed", zap.Error(err))
		}
		removed += n
	}
	if removed > 0 {
		a.logger.Debug("cache sweep", zap.Int("removed", removed))
	}
}

// Fetch runs one forced cycle of a single feed, e.g. for the CLI
func (a *App) Fetch(ctx context.Context, adapterName, feed string) (poller.Result, error) {
	r, ok := a.adapters.Runner(adapterName, feed)
	if !ok {
		return poller.Result{}, fmt.Errorf("unknown feed %s", adapter.FeedName(adapterName, feed))
	}
	return r.Fetch(ctx, true), nil
}

// Prices asks one adapter for cached prices
func (a *App) Prices(ctx context.Context, adapterName string, pairs []core.Pair) ([]core.PairPrice, error) {
	ad, ok := a.adapters.Get(adapterName)
	if !ok {
		return nil, fmt.Errorf("unknown adapter %s", adapterName)
	}
	return ad.Prices(ctx, pairs)
}

// Adapters returns the adapter registry
func (a *App) Adapters() *adapter.Registry {
	return a.adapters
}

// Metrics returns the metrics registry
func (a *App) Metrics() *metrics.Registry {
	return a.metrics
}

// GetStats returns application statistics
func (a *App) GetStats() map[string]any {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	runners := a.adapters.Runners()
	polling := 0
	for _, r := range runners {
		if r.Polling() {
			polling++
		}
	}

	return map[string]any{
		"running":       running,
		"adapters":      len(a.adapters.GetAll()),
		"feeds":         len(runners),
		"polling":       polling,
		"cache_backend": a.cfg.Cache.Backend,
		"cache_entries": a.memory.Len(),
	}
}
