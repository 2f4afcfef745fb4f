package adapter

import (
	"sync"

	"github.com/newthinker/dexfeed/internal/core"
)

// Blacklist is a set of token addresses that must not be quoted. It is
// replaced wholesale by a feed handler and read by pricing requests.
type Blacklist struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewBlacklist creates an empty blacklist
func NewBlacklist() *Blacklist {
	return &Blacklist{set: make(map[string]struct{})}
}

// Replace swaps in a new set. Addresses must already be normalized.
func (b *Blacklist) Replace(set map[string]struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set = set
}

// Contains reports whether addr is blacklisted
func (b *Blacklist) Contains(addr string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.set[core.NormalizeAddress(addr)]
	return ok
}

// Blocks reports whether either side of the pair is blacklisted
func (b *Blacklist) Blocks(p core.Pair) bool {
	return b.Contains(p.Base) || b.Contains(p.Quote)
}

// Len returns the number of blacklisted addresses
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.set)
}
