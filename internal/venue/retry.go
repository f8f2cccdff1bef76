package venue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/common"
)

// Retrying wraps a Client so every call retries transient errors with
// exponential backoff (1s, 2s, 4s, capped at 10s) up to 3 retries after the
// first call (4 calls in all), and fails
// fast on deterministic errors (spec §4.1). The wrapped interface is
// identical to the raw port: higher layers see at-most-one-success on the
// happy path and a canonical *venue.Error otherwise, exactly like the
// teacher's order-retry loop in order_tracker.go.
type Retrying struct {
	inner       Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetrying builds the default retry decorator around inner.
func NewRetrying(inner Client) *Retrying {
	return &Retrying{
		inner:       inner,
		maxAttempts: common.DefaultRetryMaxAttempts,
		baseDelay:   common.DefaultRetryBaseDelay,
		maxDelay:    common.DefaultRetryMaxDelay,
	}
}

func (r *Retrying) backoff(attempt int) time.Duration {
	d := r.baseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > r.maxDelay {
		d = r.maxDelay
	}
	return d
}

// do runs op, retrying while it reports a transient venue error.
func do[T any](ctx context.Context, r *Retrying, name string, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= r.maxAttempts; attempt++ {
		v, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !Transient(err) {
			return zero, err
		}
		if attempt == r.maxAttempts {
			break
		}
		delay := r.backoff(attempt)
		log.Warn().Str("op", name).Int("attempt", attempt+1).Dur("delay", delay).Err(err).
			Msg("venue call failed transiently, retrying")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

func (r *Retrying) MarkPrice(ctx context.Context, symbol string) (MarkPrice, error) {
	return do(ctx, r, "MarkPrice", func() (MarkPrice, error) { return r.inner.MarkPrice(ctx, symbol) })
}

func (r *Retrying) OrderBook(ctx context.Context, symbol string, depth int) (BookTop, error) {
	return do(ctx, r, "OrderBook", func() (BookTop, error) { return r.inner.OrderBook(ctx, symbol, depth) })
}

func (r *Retrying) ExchangeInfo(ctx context.Context) (map[string]SymbolFilters, error) {
	return do(ctx, r, "ExchangeInfo", func() (map[string]SymbolFilters, error) { return r.inner.ExchangeInfo(ctx) })
}

func (r *Retrying) LeverageBracket(ctx context.Context, symbol string) (int, error) {
	return do(ctx, r, "LeverageBracket", func() (int, error) { return r.inner.LeverageBracket(ctx, symbol) })
}

func (r *Retrying) AccountUSDTFree(ctx context.Context) (float64, error) {
	return do(ctx, r, "AccountUSDTFree", func() (float64, error) { return r.inner.AccountUSDTFree(ctx) })
}

func (r *Retrying) Positions(ctx context.Context, symbol string) ([]Position, error) {
	return do(ctx, r, "Positions", func() ([]Position, error) { return r.inner.Positions(ctx, symbol) })
}

func (r *Retrying) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	return do(ctx, r, "OpenOrders", func() ([]Order, error) { return r.inner.OpenOrders(ctx, symbol) })
}

func (r *Retrying) OpenConditionalOrders(ctx context.Context, symbol string) ([]Order, error) {
	return do(ctx, r, "OpenConditionalOrders", func() ([]Order, error) { return r.inner.OpenConditionalOrders(ctx, symbol) })
}

func (r *Retrying) CreateMarket(ctx context.Context, req MarketOrderReq) (string, error) {
	return do(ctx, r, "CreateMarket", func() (string, error) { return r.inner.CreateMarket(ctx, req) })
}

func (r *Retrying) CreateConditional(ctx context.Context, req ConditionalOrderReq) (string, error) {
	return do(ctx, r, "CreateConditional", func() (string, error) { return r.inner.CreateConditional(ctx, req) })
}

func (r *Retrying) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := do(ctx, r, "CancelOrder", func() (struct{}, error) { return struct{}{}, r.inner.CancelOrder(ctx, symbol, orderID) })
	return err
}

func (r *Retrying) CancelConditional(ctx context.Context, symbol, algoID string) error {
	_, err := do(ctx, r, "CancelConditional", func() (struct{}, error) { return struct{}{}, r.inner.CancelConditional(ctx, symbol, algoID) })
	return err
}

func (r *Retrying) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := do(ctx, r, "SetLeverage", func() (struct{}, error) { return struct{}{}, r.inner.SetLeverage(ctx, symbol, leverage) })
	return err
}

func (r *Retrying) GetOrder(ctx context.Context, symbol, orderID string) (Order, error) {
	return do(ctx, r, "GetOrder", func() (Order, error) { return r.inner.GetOrder(ctx, symbol, orderID) })
}

var _ Client = (*Retrying)(nil)
