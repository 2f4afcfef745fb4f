package adapter

import (
	"fmt"
	"sort"
	"time"

	"github.com/newthinker/dexfeed/internal/core"
	"github.com/shopspring/decimal"
)

// Snapshot is the cached form of a levels feed: one order book per pair,
// keyed by Pair.String().
type Snapshot struct {
	Books     map[string]core.OrderBook `json:"books"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// NewSnapshot indexes books by pair. Bids are sorted best (highest) first
// and asks best (lowest) first.
func NewSnapshot(books []core.OrderBook, updatedAt time.Time) Snapshot {
	s := Snapshot{Books: make(map[string]core.OrderBook, len(books)), UpdatedAt: updatedAt}
	for _, b := range books {
		sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price.GreaterThan(b.Bids[j].Price) })
		sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price.LessThan(b.Asks[j].Price) })
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = updatedAt
		}
		s.Books[b.Pair.String()] = b
	}
	return s
}

// Price reports the top of book for p. A pair missing from the snapshot, or
// with an empty book, is unavailable.
func (s Snapshot) Price(source string, p core.Pair) core.PairPrice {
	out := core.PairPrice{Pair: p, Source: source}
	book, ok := s.Books[p.String()]
	if !ok {
		return out
	}
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if hasBid {
		out.Bid = bid.Price
	}
	if hasAsk {
		out.Ask = ask.Price
	}
	out.Available = hasBid || hasAsk
	out.UpdatedAt = book.UpdatedAt
	return out
}

// ParseLevel parses a [price, size] pair of decimal strings. Both must be
// positive.
func ParseLevel(price, size string) (core.PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return core.PriceLevel{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return core.PriceLevel{}, fmt.Errorf("invalid size %q: %w", size, err)
	}
	if !p.IsPositive() || !s.IsPositive() {
		return core.PriceLevel{}, fmt.Errorf("non-positive level %s@%s", size, price)
	}
	return core.PriceLevel{Price: p, Size: s}, nil
}
