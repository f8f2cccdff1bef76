package venue

import (
	"context"
	"sync"
)

// RequestCache memoizes Positions/OpenOrders results for the lifetime of one
// HTTP request, to coalesce duplicate venue reads within a single handler
// invocation (spec §5 "Request-scoped caches"). It MUST be discarded at
// request end; it is never shared across requests.
type RequestCache struct {
	mu        sync.Mutex
	positions map[string][]Position
	orders    map[string][]Order
	inner     Client
}

// NewRequestCache wraps inner with a fresh, empty request-scoped cache.
func NewRequestCache(inner Client) *RequestCache {
	return &RequestCache{
		positions: make(map[string][]Position),
		orders:    make(map[string][]Order),
		inner:     inner,
	}
}

// Positions returns (and memoizes) the open positions for symbol.
func (c *RequestCache) Positions(ctx context.Context, symbol string) ([]Position, error) {
	c.mu.Lock()
	if p, ok := c.positions[symbol]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := c.inner.Positions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.positions[symbol] = p
	c.mu.Unlock()
	return p, nil
}

// OpenOrders returns (and memoizes) the open orders for symbol.
func (c *RequestCache) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	c.mu.Lock()
	if o, ok := c.orders[symbol]; ok {
		c.mu.Unlock()
		return o, nil
	}
	c.mu.Unlock()

	o, err := c.inner.OpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.orders[symbol] = o
	c.mu.Unlock()
	return o, nil
}

type requestCacheKey struct{}

// WithRequestCache attaches a fresh RequestCache to ctx.
func WithRequestCache(ctx context.Context, inner Client) context.Context {
	return context.WithValue(ctx, requestCacheKey{}, NewRequestCache(inner))
}

// RequestCacheFrom retrieves the RequestCache attached by WithRequestCache,
// if any.
func RequestCacheFrom(ctx context.Context) (*RequestCache, bool) {
	rc, ok := ctx.Value(requestCacheKey{}).(*RequestCache)
	return rc, ok
}
