package renegade

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/newthinker/dexfeed/internal/adapter"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type depthResponse struct {
	Pairs []pairDepth `json:"pairs"`
}

// pairDepth is the matchable size on each side of a token's midpoint price
type pairDepth struct {
	Address   string    `json:"address"`
	Price     string    `json:"price"`
	Timestamp int64     `json:"timestamp"` // ms
	Buy       sideDepth `json:"buy"`
	Sell      sideDepth `json:"sell"`
}

type sideDepth struct {
	TotalQuantity string `json:"total_quantity"`
}

type tokensResponse struct {
	Tokens []tokenInfo `json:"tokens"`
}

type tokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// castDepth turns midpoint depth into one-level books quoted in USDC. Buy
// interest becomes the bid side, sell interest the ask side. Malformed
// entries are logged and skipped; the cycle fails only when none survive.
func (a *Adapter) castDepth(raw []byte) (adapter.Snapshot, error) {
	var resp depthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return adapter.Snapshot{}, fmt.Errorf("decoding depth: %w", err)
	}
	if resp.Pairs == nil {
		return adapter.Snapshot{}, fmt.Errorf("depth: missing pairs field")
	}

	books := make([]core.OrderBook, 0, len(resp.Pairs))
	var lastErr error
	for _, pd := range resp.Pairs {
		book, err := a.castPair(pd)
		if err != nil {
			a.deps.Logger.Warn("skipping malformed depth entry", zap.Error(err))
			lastErr = err
			continue
		}
		books = append(books, book)
	}
	if len(books) == 0 && lastErr != nil {
		return adapter.Snapshot{}, lastErr
	}
	return adapter.NewSnapshot(books, a.deps.Clock.Now()), nil
}

func (a *Adapter) castPair(pd pairDepth) (core.OrderBook, error) {
	if pd.Address == "" {
		return core.OrderBook{}, fmt.Errorf("depth: entry without token address")
	}
	book := core.OrderBook{Pair: core.NewPair(pd.Address, a.quote)}
	if pd.Timestamp > 0 {
		book.UpdatedAt = time.UnixMilli(pd.Timestamp)
	}
	for _, side := range []struct {
		qty  string
		into *[]core.PriceLevel
	}{
		{pd.Buy.TotalQuantity, &book.Bids},
		{pd.Sell.TotalQuantity, &book.Asks},
	} {
		if side.qty == "" {
			continue
		}
		qty, err := decimal.NewFromString(side.qty)
		if err != nil {
			return core.OrderBook{}, fmt.Errorf("depth %s: invalid quantity %q: %w", book.Pair, side.qty, err)
		}
		// "0", "0.0" and "0E-18" all mean no interest on that side
		if qty.IsZero() {
			continue
		}
		lvl, err := adapter.ParseLevel(pd.Price, side.qty)
		if err != nil {
			return core.OrderBook{}, fmt.Errorf("depth %s: %w", book.Pair, err)
		}
		*side.into = append(*side.into, lvl)
	}
	return book, nil
}

func castTokens(raw []byte) ([]core.Token, error) {
	var resp tokensResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding tokens: %w", err)
	}
	if resp.Tokens == nil {
		return nil, fmt.Errorf("tokens: missing tokens field")
	}
	out := make([]core.Token, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		if t.Address == "" || t.Decimals < 0 {
			return nil, fmt.Errorf("tokens: invalid entry %q", t.Symbol)
		}
		out = append(out, core.Token{
			Address:  core.NormalizeAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		})
	}
	return out, nil
}
