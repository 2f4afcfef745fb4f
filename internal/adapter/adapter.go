// Package adapter defines the exchange adapter contract and the shared
// plumbing adapters use to build their feed pollers.
package adapter

import (
	"context"
	"fmt"
	"slices"

	"github.com/newthinker/dexfeed/internal/cache"
	"github.com/newthinker/dexfeed/internal/clock"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/logger"
	"github.com/newthinker/dexfeed/internal/poller"
	"github.com/newthinker/dexfeed/internal/transport"
	"go.uber.org/zap"
)

// Adapter is one exchange integration. It owns its feed pollers and answers
// pricing requests from cached data only.
type Adapter interface {
	// Metadata
	Name() string
	Network() core.Network

	// Runners returns the adapter's feed pollers. The owner starts and stops them.
	Runners() []poller.Runner

	// Prices reports the current price of each pair, one result per requested
	// pair in request order. Pairs that are unsupported, blacklisted or without
	// fresh data are returned with Available=false.
	Prices(ctx context.Context, pairs []core.Pair) ([]core.PairPrice, error)
}

// BlacklistObserver is told the blacklist size after every refresh
type BlacklistObserver interface {
	SetBlacklistSize(adapter string, n int)
}

// Deps carries the collaborators every adapter needs
type Deps struct {
	Requester      transport.Requester
	Store          cache.Store
	Clock          clock.Clock
	Logger         *zap.Logger
	Observer       poller.Observer     // optional, e.g. metrics
	WriteObserver  cache.WriteObserver // optional
	BlacklistSizes BlacklistObserver   // optional
	WriteAttempts  uint                // cache write attempts, 0 keeps the handler default
}

// Validate fills defaults and checks required collaborators
func (d *Deps) Validate() error {
	if d.Requester == nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("requester is required"))
	}
	if d.Store == nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("cache store is required"))
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return nil
}

// PollerOptions returns the options for one feed poller of an adapter
func (d Deps) PollerOptions(adapterName, feed string) []poller.Option {
	opts := []poller.Option{
		poller.WithClock(d.Clock),
		poller.WithLogger(logger.ForFeed(d.Logger, adapterName, feed)),
	}
	if d.Observer != nil {
		opts = append(opts, poller.WithObserver(d.Observer))
	}
	return opts
}

// WriteOptions returns the cache write options shared by adapters
func (d Deps) WriteOptions() []cache.WriteOption {
	var opts []cache.WriteOption
	if d.WriteAttempts > 0 {
		opts = append(opts, cache.WithRetry(d.WriteAttempts, 0))
	}
	if d.WriteObserver != nil {
		opts = append(opts, cache.WithWriteObserver(d.WriteObserver))
	}
	return opts
}

// CheckNetwork returns core.ErrUnsupportedNetwork unless n is in supported
func CheckNetwork(adapterName string, n core.Network, supported []core.Network) error {
	if slices.Contains(supported, n) {
		return nil
	}
	return core.WrapError(core.ErrUnsupportedNetwork, fmt.Errorf("%s does not support network %s", adapterName, n))
}

// FeedName is the poller name of an adapter feed, e.g. "native/levels"
func FeedName(adapterName, feed string) string {
	return adapterName + "/" + feed
}

// Unavailable marks every pair as lacking data
func Unavailable(source string, pairs []core.Pair) []core.PairPrice {
	out := make([]core.PairPrice, len(pairs))
	for i, p := range pairs {
		out[i] = core.PairPrice{Pair: p, Source: source}
	}
	return out
}
