package pricefeed

import (
	"context"

	"github.com/archer-trading/execution-core/internal/extcache"
	"github.com/archer-trading/execution-core/internal/venue"
)

// View is PriceView (spec §2/§4.1): a fresh mark-price + top-of-book lookup,
// independent of the SymbolSpec cache. It consults the in-memory websocket
// Stream first, then the optional short-TTL shared PriceCache, and only
// then falls through to the venue directly — never serving anything stale
// from this layer itself without a fresh venue read on a miss.
type View struct {
	client venue.Client
	stream *Stream      // optional; nil disables the in-memory hot path
	cache  *extcache.PriceCache // optional; nil disables the shared cache hop
}

// New builds a PriceView. stream and cache may be nil.
func New(client venue.Client, stream *Stream, cache *extcache.PriceCache) *View {
	return &View{client: client, stream: stream, cache: cache}
}

// Mark returns a fresh mark price for symbol.
func (v *View) Mark(ctx context.Context, symbol string) (venue.MarkPrice, error) {
	if v.stream != nil {
		if mp, ok := v.stream.Get(symbol); ok {
			return mp, nil
		}
	}
	if v.cache != nil {
		if mp, ok, err := v.cache.GetMark(ctx, symbol); err == nil && ok {
			return mp, nil
		}
	}
	mp, err := v.client.MarkPrice(ctx, symbol)
	if err != nil {
		return venue.MarkPrice{}, err
	}
	if v.cache != nil {
		_ = v.cache.PutMark(ctx, mp) // best-effort; PriceView's own freshness does not depend on this
	}
	return mp, nil
}

// Book returns a fresh top-of-book snapshot for symbol.
func (v *View) Book(ctx context.Context, symbol string, depth int) (venue.BookTop, error) {
	if v.cache != nil {
		if bt, ok, err := v.cache.GetBook(ctx, symbol); err == nil && ok {
			return bt, nil
		}
	}
	bt, err := v.client.OrderBook(ctx, symbol, depth)
	if err != nil {
		return venue.BookTop{}, err
	}
	if v.cache != nil {
		_ = v.cache.PutBook(ctx, bt)
	}
	return bt, nil
}
