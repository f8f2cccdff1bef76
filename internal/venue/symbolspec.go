package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SymbolSpecCache is a process-wide, per-symbol TTL cache over
// ExchangeInfo(), refreshed on miss or expiry. On a refresh failure it
// serves a stale entry with a warning; an empty cache is a hard error
// (spec §4.1/§9).
type SymbolSpecCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	client  Client
	entries map[string]specEntry
}

type specEntry struct {
	spec      SymbolFilters
	fetchedAt time.Time
}

// NewSymbolSpecCache builds a cache with the given TTL, backed by client.
func NewSymbolSpecCache(client Client, ttl time.Duration) *SymbolSpecCache {
	return &SymbolSpecCache{
		ttl:     ttl,
		client:  client,
		entries: make(map[string]specEntry),
	}
}

// Get returns the filters for symbol, refreshing the whole-exchange snapshot
// on miss or expiry.
func (c *SymbolSpecCache) Get(ctx context.Context, symbol string) (SymbolFilters, error) {
	c.mu.Lock()
	entry, ok := c.entries[symbol]
	fresh := ok && time.Since(entry.fetchedAt) < c.ttl
	c.mu.Unlock()
	if fresh {
		return entry.spec, nil
	}

	all, err := c.client.ExchangeInfo(ctx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if stale, ok := c.entries[symbol]; ok {
			log.Warn().Err(err).Str("symbol", symbol).
				Msg("exchangeInfo refresh failed, serving stale symbol spec")
			return stale.spec, nil
		}
		return SymbolFilters{}, fmt.Errorf("symbol spec cache empty for %s and refresh failed: %w", symbol, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for sym, spec := range all {
		c.entries[sym] = specEntry{spec: spec, fetchedAt: now}
	}
	if spec, ok := c.entries[symbol]; ok {
		return spec.spec, nil
	}
	return SymbolFilters{}, fmt.Errorf("symbol %s not present in exchange info", symbol)
}

// LeverageBracketCache mirrors SymbolSpecCache for the per-symbol max
// leverage bracket (spec §4.1).
type LeverageBracketCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	client  Client
	entries map[string]struct {
		maxLeverage int
		fetchedAt   time.Time
	}
}

// NewLeverageBracketCache builds a leverage-bracket cache with the given TTL.
func NewLeverageBracketCache(client Client, ttl time.Duration) *LeverageBracketCache {
	return &LeverageBracketCache{
		ttl:    ttl,
		client: client,
		entries: make(map[string]struct {
			maxLeverage int
			fetchedAt   time.Time
		}),
	}
}

// Get returns the max leverage bracket for symbol.
func (c *LeverageBracketCache) Get(ctx context.Context, symbol string) (int, error) {
	c.mu.Lock()
	entry, ok := c.entries[symbol]
	fresh := ok && time.Since(entry.fetchedAt) < c.ttl
	c.mu.Unlock()
	if fresh {
		return entry.maxLeverage, nil
	}

	lev, err := c.client.LeverageBracket(ctx, symbol)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if stale, ok := c.entries[symbol]; ok {
			log.Warn().Err(err).Str("symbol", symbol).
				Msg("leverage bracket refresh failed, serving stale value")
			return stale.maxLeverage, nil
		}
		return 0, fmt.Errorf("leverage bracket cache empty for %s and refresh failed: %w", symbol, err)
	}

	c.mu.Lock()
	c.entries[symbol] = struct {
		maxLeverage int
		fetchedAt   time.Time
	}{maxLeverage: lev, fetchedAt: time.Now()}
	c.mu.Unlock()
	return lev, nil
}
