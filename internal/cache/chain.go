package cache

import (
	"context"
	"time"

	json "github.com/bytedance/sonic"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// ChainEntry is a cached option-chain summary with the time it was fetched
type ChainEntry struct {
	Summary   domain.OptionChainSummary `json:"summary"`
	FetchedAt time.Time                 `json:"fetched_at"`
}

// ChainCache stores option-chain summaries per API symbol. Neutral summaries
// are never stored so a failed upstream call is retried on the next cycle.
type ChainCache struct {
	store Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewChainCache returns nil when store is nil or ttl is not positive, which
// disables caching for the provider holding it
func NewChainCache(store Cache, ttl time.Duration) *ChainCache {
	if store == nil || ttl <= 0 {
		return nil
	}
	return &ChainCache{store: store, ttl: ttl, now: time.Now}
}

func chainKey(symbol string) string { return "oc:" + symbol }

// Get returns the cached entry for symbol. Undecodable payloads read as misses.
func (c *ChainCache) Get(ctx context.Context, symbol string) (ChainEntry, bool) {
	if c == nil {
		return ChainEntry{}, false
	}
	data, ok := c.store.Get(ctx, chainKey(symbol))
	if !ok {
		return ChainEntry{}, false
	}
	var e ChainEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return ChainEntry{}, false
	}
	return e, true
}

// Put stores s for symbol unless it is neutral
func (c *ChainCache) Put(ctx context.Context, symbol string, s domain.OptionChainSummary) {
	if c == nil || s.IsNeutral() {
		return
	}
	data, err := json.Marshal(ChainEntry{Summary: s, FetchedAt: c.now()})
	if err != nil {
		return
	}
	c.store.Set(ctx, chainKey(symbol), data, c.ttl)
}

// Age reports how old e is at the cache's clock
func (c *ChainCache) Age(e ChainEntry) time.Duration {
	if c == nil || e.FetchedAt.IsZero() {
		return 0
	}
	return c.now().Sub(e.FetchedAt)
}
