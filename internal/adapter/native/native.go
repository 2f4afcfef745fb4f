// Package native integrates a request-for-quote market maker that publishes
// price levels and a token blacklist per network.
package native

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/dexfeed/internal/adapter"
	"github.com/newthinker/dexfeed/internal/cache"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/poller"
	"github.com/newthinker/dexfeed/internal/transport"
	"go.uber.org/zap"
)

// Name is the adapter name used in cache keys, metrics and the CLI
const Name = "native"

// Feed names
const (
	FeedLevels    = "levels"
	FeedBlacklist = "blacklist"
)

// SupportedNetworks lists the chains the native API serves
var SupportedNetworks = []core.Network{
	core.NetworkMainnet,
	core.NetworkBSC,
	core.NetworkPolygon,
	core.NetworkBase,
	core.NetworkArbitrum,
}

// Config holds native adapter configuration
type Config struct {
	Network           core.Network
	BaseURL           string
	APIKey            string // optional, sent as X-Api-Key
	LevelsInterval    time.Duration
	BlacklistInterval time.Duration
	TTLFactor         int // levels TTL = TTLFactor x LevelsInterval
}

// DefaultConfig returns the production defaults for network
func DefaultConfig(network core.Network) Config {
	return Config{
		Network:           network,
		BaseURL:           "https://api.native.org",
		LevelsInterval:    time.Second,
		BlacklistInterval: 30 * time.Second,
		TTLFactor:         10,
	}
}

// Adapter implements adapter.Adapter for native
type Adapter struct {
	cfg       Config
	deps      adapter.Deps
	levelsKey cache.Key
	blacklist *adapter.Blacklist

	levels        *poller.Poller[adapter.Snapshot]
	blacklistFeed *poller.Poller[[]string]
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

	a := &Adapter{
		cfg:       cfg,
		deps:      deps,
		levelsKey: cache.Key{Consumer: Name, Network: cfg.Network, Name: FeedLevels},
		blacklist: adapter.NewBlacklist(),
	}

	writer, err := cache.NewWriteHandler[adapter.Snapshot](deps.Store, a.levelsKey,
		time.Duration(cfg.TTLFactor)*cfg.LevelsInterval, cfg.LevelsInterval, deps.WriteOptions()...)
	if err != nil {
		return nil, err
	}

	a.levels, err = poller.New[adapter.Snapshot](&poller.Descriptor[adapter.Snapshot]{
		FeedName: adapter.FeedName(Name, FeedLevels),
		Template: a.request("/v1/levels"),
		CastFunc: a.castLevels,
		Handler:  writer.Handle,
	}, deps.Requester, poller.Config{Interval: cfg.LevelsInterval}, deps.PollerOptions(Name, FeedLevels)...)
	if err != nil {
		return nil, err
	}

	a.blacklistFeed, err = poller.New[[]string](&poller.Descriptor[[]string]{
		FeedName: adapter.FeedName(Name, FeedBlacklist),
		Template: a.request("/v1/blacklist"),
		CastFunc: castBlacklist,
		Handler:  cache.NewSetHandler(normalizeAddresses, a.setBlacklist),
	}, deps.Requester, poller.Config{Interval: cfg.BlacklistInterval}, deps.PollerOptions(Name, FeedBlacklist)...)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Adapter) Name() string          { return Name }
func (a *Adapter) Network() core.Network { return a.cfg.Network }

// Runners returns the levels and blacklist pollers
func (a *Adapter) Runners() []poller.Runner {
	return []poller.Runner{a.levels, a.blacklistFeed}
}

// Blacklist exposes the shared blacklist set
func (a *Adapter) Blacklist() *adapter.Blacklist {
	return a.blacklist
}

// Prices reads cached levels. Blacklisted pairs, and pairs without cached
// levels, are reported unavailable.
func (a *Adapter) Prices(ctx context.Context, pairs []core.Pair) ([]core.PairPrice, error) {
	snap, err := cache.Read[adapter.Snapshot](ctx, a.deps.Store, a.levelsKey)
	if errors.Is(err, core.ErrNoData) {
		a.deps.Logger.Debug("no cached levels", zap.String("key", a.levelsKey.String()))
		return adapter.Unavailable(Name, pairs), nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]core.PairPrice, 0, len(pairs))
	for _, p := range pairs {
		if a.blacklist.Blocks(p) {
			out = append(out, core.PairPrice{Pair: p, Source: Name})
			continue
		}
		out = append(out, snap.Price(Name, p))
	}
	return out, nil
}

func (a *Adapter) request(path string) transport.Request {
	header := http.Header{}
	if a.cfg.APIKey != "" {
		header.Set("X-Api-Key", a.cfg.APIKey)
	}
	return transport.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(a.cfg.BaseURL, "/") + path + "?chain_id=" + strconv.FormatUint(uint64(a.cfg.Network), 10),
		Header: header,
	}
}

func (a *Adapter) setBlacklist(set map[string]struct{}) {
	a.blacklist.Replace(set)
	if a.deps.BlacklistSizes != nil {
		a.deps.BlacklistSizes.SetBlacklistSize(Name, len(set))
	}
}
