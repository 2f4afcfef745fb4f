package native

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/newthinker/dexfeed/internal/adapter"
	"github.com/newthinker/dexfeed/internal/core"
)

// API response types

type levelsResponse struct {
	Levels []pairLevels `json:"levels"`
}

type pairLevels struct {
	BaseAddress  string      `json:"base_address"`
	QuoteAddress string      `json:"quote_address"`
	Bids         [][2]string `json:"bids"` // [price, size]
	Asks         [][2]string `json:"asks"`
}

type blacklistResponse struct {
	Addresses []string `json:"addresses"`
}

func (a *Adapter) castLevels(raw []byte) (adapter.Snapshot, error) {
	var resp levelsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return adapter.Snapshot{}, fmt.Errorf("decoding levels: %w", err)
	}
	if resp.Levels == nil {
		return adapter.Snapshot{}, fmt.Errorf("levels: missing levels field")
	}

	books := make([]core.OrderBook, 0, len(resp.Levels))
	for _, pl := range resp.Levels {
		if pl.BaseAddress == "" || pl.QuoteAddress == "" {
			return adapter.Snapshot{}, fmt.Errorf("levels: entry without token addresses")
		}
		book := core.OrderBook{Pair: core.NewPair(pl.BaseAddress, pl.QuoteAddress)}
		var err error
		if book.Bids, err = parseLevels(pl.Bids); err != nil {
			return adapter.Snapshot{}, fmt.Errorf("levels %s bids: %w", book.Pair, err)
		}
		if book.Asks, err = parseLevels(pl.Asks); err != nil {
			return adapter.Snapshot{}, fmt.Errorf("levels %s asks: %w", book.Pair, err)
		}
		books = append(books, book)
	}
	return adapter.NewSnapshot(books, a.deps.Clock.Now()), nil
}

func parseLevels(raw [][2]string) ([]core.PriceLevel, error) {
	out := make([]core.PriceLevel, 0, len(raw))
	for _, l := range raw {
		lvl, err := adapter.ParseLevel(l[0], l[1])
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

func castBlacklist(raw []byte) ([]string, error) {
	var resp blacklistResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding blacklist: %w", err)
	}
	if resp.Addresses == nil {
		return nil, fmt.Errorf("blacklist: missing addresses field")
	}
	return resp.Addresses, nil
}

func normalizeAddresses(addrs []string) ([]string, error) {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if n := core.NormalizeAddress(addr); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}
