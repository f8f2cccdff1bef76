package extcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/archer-trading/execution-core/internal/common"
	"github.com/archer-trading/execution-core/internal/venue"
)

// PriceCache is the optional short-TTL (≤30s) shared mark-price/order-book
// cache PriceView may consult before going direct to venue (spec §4.1).
// Absent a configured Redis connection, PriceView simply skips this layer.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache wraps an existing redis client.
func NewPriceCache(rdb *redis.Client) *PriceCache {
	return &PriceCache{rdb: rdb}
}

func markKey(symbol string) string { return "price:mark:" + symbol }
func bookKey(symbol string) string { return "price:book:" + symbol }

// GetMark returns a cached mark price for symbol, if fresh.
func (c *PriceCache) GetMark(ctx context.Context, symbol string) (venue.MarkPrice, bool, error) {
	var mp venue.MarkPrice
	ok, err := c.getJSON(ctx, markKey(symbol), &mp)
	return mp, ok, err
}

// PutMark caches a mark price for the configured short TTL.
func (c *PriceCache) PutMark(ctx context.Context, mp venue.MarkPrice) error {
	return c.putJSON(ctx, markKey(mp.Symbol), mp)
}

// GetBook returns a cached top-of-book snapshot for symbol, if fresh.
func (c *PriceCache) GetBook(ctx context.Context, symbol string) (venue.BookTop, bool, error) {
	var bt venue.BookTop
	ok, err := c.getJSON(ctx, bookKey(symbol), &bt)
	return bt, ok, err
}

// PutBook caches a top-of-book snapshot for the configured short TTL.
func (c *PriceCache) PutBook(ctx context.Context, bt venue.BookTop) error {
	return c.putJSON(ctx, bookKey(bt.Symbol), bt)
}

func (c *PriceCache) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("price cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("price cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *PriceCache) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("price cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, common.DefaultPriceCacheTTL).Err(); err != nil {
		return fmt.Errorf("price cache put %s: %w", key, err)
	}
	return nil
}
