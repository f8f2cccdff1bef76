// Package extcache is the Redis-backed external state shared with the
// guardian monitor: the LiveTrade mirror (spec §3/§6) and an optional
// short-TTL mark-price/order-book cache for PriceView. Grounded on
// original_source's app/utils/db/redis_client.py and the redis/go-redis/v9
// usage found across the wider example pack's manifests.
package extcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/common"
	"github.com/archer-trading/execution-core/internal/domain"
)

// LiveTradeCache persists/retrieves domain.LiveTrade under
// guardian:trades:{user}:{SYM} with a 7-day TTL (spec §6).
type LiveTradeCache struct {
	rdb *redis.Client
}

// NewLiveTradeCache wraps an existing redis client.
func NewLiveTradeCache(rdb *redis.Client) *LiveTradeCache {
	return &LiveTradeCache{rdb: rdb}
}

func liveTradeKey(userID, symbol string) string {
	return fmt.Sprintf("guardian:trades:%s:%s", userID, symbol)
}

// Get reads the LiveTrade for (userID, symbol), if present.
func (c *LiveTradeCache) Get(ctx context.Context, userID, symbol string) (domain.LiveTrade, bool, error) {
	raw, err := c.rdb.Get(ctx, liveTradeKey(userID, symbol)).Bytes()
	if err == redis.Nil {
		return domain.LiveTrade{}, false, nil
	}
	if err != nil {
		return domain.LiveTrade{}, false, fmt.Errorf("livetrade get %s/%s: %w", userID, symbol, err)
	}
	var lt domain.LiveTrade
	if err := json.Unmarshal(raw, &lt); err != nil {
		return domain.LiveTrade{}, false, fmt.Errorf("livetrade decode %s/%s: %w", userID, symbol, err)
	}
	return lt, true, nil
}

// Put writes lt, retrying once after ~500ms on failure (spec §4.4: "The
// external write MUST be retried once after ≈500 ms on failure"). On
// persistent failure it returns an error; callers must treat this as
// cache:out_of_sync, non-fatal to the exchange-side change already made.
func (c *LiveTradeCache) Put(ctx context.Context, lt domain.LiveTrade) error {
	raw, err := json.Marshal(lt)
	if err != nil {
		return fmt.Errorf("encode livetrade %s/%s: %w", lt.UserID, lt.Symbol, err)
	}
	key := liveTradeKey(lt.UserID, lt.Symbol)

	err = c.rdb.Set(ctx, key, raw, common.DefaultLiveTradeTTL).Err()
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("user", lt.UserID).Str("symbol", lt.Symbol).
		Msg("livetrade cache write failed, retrying once")

	select {
	case <-time.After(common.CacheWriteRetryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.rdb.Set(ctx, key, raw, common.DefaultLiveTradeTTL).Err(); err != nil {
		return fmt.Errorf("livetrade put %s/%s (after retry): %w", lt.UserID, lt.Symbol, err)
	}
	return nil
}

// Delete removes the LiveTrade on trade close (spec §3 lifecycle).
func (c *LiveTradeCache) Delete(ctx context.Context, userID, symbol string) error {
	if err := c.rdb.Del(ctx, liveTradeKey(userID, symbol)).Err(); err != nil {
		return fmt.Errorf("livetrade delete %s/%s: %w", userID, symbol, err)
	}
	return nil
}
