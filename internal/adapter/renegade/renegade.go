// Package renegade integrates a dark-pool exchange that quotes every token
// against USDC at the Binance midpoint. Its depth endpoint requires HMAC
// request signing.
package renegade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/dexfeed/internal/adapter"
	"github.com/newthinker/dexfeed/internal/auth"
	"github.com/newthinker/dexfeed/internal/cache"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/poller"
	"github.com/newthinker/dexfeed/internal/transport"
	"go.uber.org/zap"
)

// Name is the adapter name used in cache keys, metrics and the CLI
const Name = "renegade"

// Feed names
const (
	FeedLevels = "levels"
	FeedTokens = "tokens"
)

// usdc is the quote token per supported network
var usdc = map[core.Network]string{
	core.NetworkArbitrum: "0xaf88d065e77c8cc2239327c5edb3a432268e5831",
	core.NetworkBase:     "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
}

// SupportedNetworks lists the chains renegade runs on
var SupportedNetworks = []core.Network{core.NetworkArbitrum, core.NetworkBase}

// Config holds renegade adapter configuration
type Config struct {
	Network        core.Network
	BaseURL        string
	Credentials    auth.Credentials
	LevelsInterval time.Duration
	TokensInterval time.Duration
	TTLFactor      int
}

// DefaultConfig returns the production defaults for network
func DefaultConfig(network core.Network) Config {
	return Config{
		Network:        network,
		BaseURL:        "https://" + network.String() + ".auth-server.renegade.fi",
		LevelsInterval: 2 * time.Second,
		TokensInterval: 10 * time.Minute,
		TTLFactor:      5,
	}
}

// Adapter implements adapter.Adapter for renegade
type Adapter struct {
	cfg       Config
	deps      adapter.Deps
	quote     string
	levelsKey cache.Key
	tokensKey cache.Key

	levels *poller.Poller[adapter.Snapshot]
	tokens *poller.Poller[[]core.Token]
}

var _ adapter.Adapter = (*Adapter)(nil)

// New validates cfg and builds both feed pollers. Pollers are not started.
func New(cfg Config, deps adapter.Deps) (*Adapter, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if err := adapter.CheckNetwork(Name, cfg.Network, SupportedNetworks); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("%s: base_url is required", Name))
	}
	if cfg.TTLFactor < 2 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("%s: ttl_factor must be at least 2, got %d", Name, cfg.TTLFactor))
	}
	signer, err := auth.NewSigner(cfg.Credentials, 0, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}

	a := &Adapter{
		cfg:       cfg,
		deps:      deps,
		quote:     usdc[cfg.Network],
		levelsKey: cache.Key{Consumer: Name, Network: cfg.Network, Name: FeedLevels},
		tokensKey: cache.Key{Consumer: Name, Network: cfg.Network, Name: FeedTokens},
	}

	levelsWriter, err := cache.NewWriteHandler[adapter.Snapshot](deps.Store, a.levelsKey,
		time.Duration(cfg.TTLFactor)*cfg.LevelsInterval, cfg.LevelsInterval, deps.WriteOptions()...)
	if err != nil {
		return nil, err
	}
	tokensWriter, err := cache.NewWriteHandler[[]core.Token](deps.Store, a.tokensKey,
		time.Duration(cfg.TTLFactor)*cfg.TokensInterval, cfg.TokensInterval, deps.WriteOptions()...)
	if err != nil {
		return nil, err
	}

	a.levels, err = poller.New[adapter.Snapshot](&poller.Descriptor[adapter.Snapshot]{
		FeedName: adapter.FeedName(Name, FeedLevels),
		Template: a.request("/v0/order_book/depth"),
		AuthFunc: signer.Sign,
		CastFunc: a.castDepth,
		Handler:  levelsWriter.Handle,
	}, deps.Requester, poller.Config{Interval: cfg.LevelsInterval}, deps.PollerOptions(Name, FeedLevels)...)
	if err != nil {
		return nil, err
	}

	a.tokens, err = poller.New[[]core.Token](&poller.Descriptor[[]core.Token]{
		FeedName: adapter.FeedName(Name, FeedTokens),
		Template: a.request("/v0/supported-tokens"),
		CastFunc: castTokens,
		Handler:  tokensWriter.Handle,
	}, deps.Requester, poller.Config{Interval: cfg.TokensInterval}, deps.PollerOptions(Name, FeedTokens)...)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Adapter) Name() string          { return Name }
func (a *Adapter) Network() core.Network { return a.cfg.Network }

// Runners returns the levels and tokens pollers
func (a *Adapter) Runners() []poller.Runner {
	return []poller.Runner{a.levels, a.tokens}
}

// ValidatePair rejects pairs that are not quoted in USDC
func (a *Adapter) ValidatePair(p core.Pair) error {
	if p.Quote != a.quote {
		return core.WrapError(core.ErrUnsupportedPair, fmt.Errorf("%s: only USDC-quoted pairs are supported, got %s", Name, p))
	}
	return nil
}

// Tokens returns the cached supported-token list
func (a *Adapter) Tokens(ctx context.Context) ([]core.Token, error) {
	return cache.Read[[]core.Token](ctx, a.deps.Store, a.tokensKey)
}

// Prices reads cached depth. Pairs not quoted in USDC, and pairs without
// cached depth, are reported unavailable.
func (a *Adapter) Prices(ctx context.Context, pairs []core.Pair) ([]core.PairPrice, error) {
	snap, err := cache.Read[adapter.Snapshot](ctx, a.deps.Store, a.levelsKey)
	if errors.Is(err, core.ErrNoData) {
		a.deps.Logger.Debug("no cached depth", zap.String("key", a.levelsKey.String()))
		return adapter.Unavailable(Name, pairs), nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]core.PairPrice, 0, len(pairs))
	for _, p := range pairs {
		if err := a.ValidatePair(p); err != nil {
			a.deps.Logger.Debug("skipping pair", zap.Error(err))
			out = append(out, core.PairPrice{Pair: p, Source: Name})
			continue
		}
		out = append(out, snap.Price(Name, p))
	}
	return out, nil
}

func (a *Adapter) request(path string) transport.Request {
	return transport.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(a.cfg.BaseURL, "/") + path,
		Header: http.Header{},
	}
}
