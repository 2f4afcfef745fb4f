package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Network is an EVM chain ID
type Network uint64

const (
	NetworkMainnet  Network = 1
	NetworkBSC      Network = 56
	NetworkPolygon  Network = 137
	NetworkBase     Network = 8453
	NetworkArbitrum Network = 42161
)

var networkNames = map[Network]string{
	NetworkMainnet:  "mainnet",
	NetworkBSC:      "bsc",
	NetworkPolygon:  "polygon",
	NetworkBase:     "base",
	NetworkArbitrum: "arbitrum",
}

func (n Network) String() string {
	if name, ok := networkNames[n]; ok {
		return name
	}
	return strconv.FormatUint(uint64(n), 10)
}

// ParseNetwork accepts a network name ("arbitrum") or a decimal chain ID ("42161")
func ParseNetwork(s string) (Network, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("network cannot be empty")
	}
	for n, name := range networkNames {
		if name == s {
			return n, nil
		}
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("unknown network: %s", s)
	}
	return Network(id), nil
}

// Token describes an ERC-20 token known to an exchange
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// NormalizeAddress lowercases a hex address so it can be used as a map key
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Pair is a directed base/quote token pair, identified by token addresses
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewPair builds a pair with normalized addresses
func NewPair(base, quote string) Pair {
	return Pair{Base: NormalizeAddress(base), Quote: NormalizeAddress(quote)}
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// PriceLevel is a single order book level: Size of base available at Price (quote per base)
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook holds the price levels offered by a market maker for one pair
type OrderBook struct {
	Pair      Pair         `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BestBid returns the highest bid, or false when the book has no bids
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the book has no asks
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// PairPrice is what adapters report to the router for one pair
type PairPrice struct {
	Pair      Pair
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Available bool
	Source    string
	UpdatedAt time.Time
}
