package services

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nickcoast/IBKR-notional/interfaces"
)

// SnapshotCache holds the latest portfolio snapshot and one chain snapshot per key.
// Values are replaced whole and never mutated after publication, so readers see
// either the previous or the new snapshot. Chain entries are never evicted.
type SnapshotCache struct {
	portfolio atomic.Pointer[interfaces.PortfolioSnapshot]

	mu     sync.RWMutex
	chains map[interfaces.ChainKey]*interfaces.OptionChainSnapshot
}

// NewSnapshotCache creates an empty cache
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		chains: make(map[interfaces.ChainKey]*interfaces.OptionChainSnapshot),
	}
}

// Portfolio returns the latest portfolio snapshot, or nil before the first refresh
func (c *SnapshotCache) Portfolio() *interfaces.PortfolioSnapshot {
	return c.portfolio.Load()
}

// SetPortfolio publishes snapshot
func (c *SnapshotCache) SetPortfolio(snapshot *interfaces.PortfolioSnapshot) {
	c.portfolio.Store(snapshot)
}

// Chain returns the cached chain for key
func (c *SnapshotCache) Chain(key interfaces.ChainKey) (*interfaces.OptionChainSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, ok := c.chains[key]
	return snapshot, ok
}

// SetChain publishes snapshot under key
func (c *SnapshotCache) SetChain(key interfaces.ChainKey, snapshot *interfaces.OptionChainSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chains[key] = snapshot
}

// ChainKeys lists cached keys in sorted order
func (c *SnapshotCache) ChainKeys() []interfaces.ChainKey {
	c.mu.RLock()
	keys := make([]interfaces.ChainKey, 0, len(c.chains))
	for k := range c.chains {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sortChainKeys(keys)
	return keys
}

func sortChainKeys(keys []interfaces.ChainKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
