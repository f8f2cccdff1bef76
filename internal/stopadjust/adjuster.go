// Package stopadjust implements the tighten-only stop-loss replacement and
// half-close + move-to-break-even operations (spec §4.4).
package stopadjust

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/venue"
)

// LiveTradeStore is the external LiveTrade read/write capability.
type LiveTradeStore interface {
	Get(ctx context.Context, userID, symbol string) (domain.LiveTrade, bool, error)
	Put(ctx context.Context, lt domain.LiveTrade) error
}

// PriceSource is the minimal fresh-price capability needed for side sanity.
type PriceSource interface {
	Mark(ctx context.Context, symbol string) (venue.MarkPrice, error)
}

// SpecSource resolves the tick/price bounds for a symbol.
type SpecSource interface {
	Get(ctx context.Context, symbol string) (venue.SymbolFilters, error)
}

// Result is the outcome of an adjustStop or halfCloseMoveBE call.
type Result struct {
	Success       bool
	Reason        string
	NewStop       float64
	RedisUpdated  bool
	FullyClosed   bool
	Note          string
}

// Adjuster is StopAdjuster.
type Adjuster struct {
	Specs      SpecSource
	Prices     PriceSource
	LiveTrades LiveTradeStore
}

// New builds an Adjuster.
func New(specs SpecSource, prices PriceSource, liveTrades LiveTradeStore) *Adjuster {
	return &Adjuster{Specs: specs, Prices: prices, LiveTrades: liveTrades}
}

// AdjustStop implements the tighten-only SL replacement (spec §4.4).
func (a *Adjuster) AdjustStop(ctx context.Context, userID string, client venue.Client, symbol string, newStop float64, meta *domain.TrailingStopMeta) Result {
	positions, err := client.Positions(ctx, symbol)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	pos := findPosition(positions, symbol)
	if pos == nil {
		return Result{Reason: "invariant:no_open_position"}
	}
	direction := domain.DirectionBuy
	if pos.PositionAmt < 0 {
		direction = domain.DirectionSell
	}

	spec, err := a.Specs.Get(ctx, symbol)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	rounded := roundToTick(newStop, spec.TickSize)
	if rounded < spec.MinPrice || rounded > spec.MaxPrice {
		return Result{Reason: "invariant:stop_out_of_price_bounds"}
	}

	conditionals, err := conditionalOrders(ctx, client, symbol)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	currentStop, hasCurrentStop := firstStopTrigger(conditionals)
	if hasCurrentStop {
		if direction == domain.DirectionBuy && rounded < currentStop {
			return Result{Reason: fmt.Sprintf("invariant:looser_stop_not_allowed(current %.8f, new %.8f)", currentStop, rounded)}
		}
		if direction == domain.DirectionSell && rounded > currentStop {
			return Result{Reason: fmt.Sprintf("invariant:looser_stop_not_allowed(current %.8f, new %.8f)", currentStop, rounded)}
		}
	}

	mark, err := a.Prices.Mark(ctx, symbol)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	if direction == domain.DirectionBuy && rounded >= mark.Price {
		return Result{Reason: "invariant:stop_must_be_below_mark_for_long"}
	}
	if direction == domain.DirectionSell && rounded <= mark.Price {
		return Result{Reason: "invariant:stop_must_be_above_mark_for_short"}
	}

	if err := cancelStopOrders(ctx, client, symbol, conditionals); err != nil {
		return Result{Reason: err.Error()}
	}

	side := venue.Side(direction).Opposite()
	if _, err := client.CreateConditional(ctx, venue.ConditionalOrderReq{
		Symbol:        symbol,
		Side:          side,
		Kind:          venue.KindStopMarket,
		TriggerPrice:  rounded,
		WorkingType:   venue.WorkingTypeContractPrice,
		ClosePosition: true,
	}); err != nil {
		return Result{Reason: err.Error()}
	}

	redisUpdated := a.syncLiveTrade(ctx, userID, symbol, rounded, meta)

	return Result{Success: true, NewStop: rounded, RedisUpdated: redisUpdated}
}

func (a *Adjuster) syncLiveTrade(ctx context.Context, userID, symbol string, newStop float64, meta *domain.TrailingStopMeta) bool {
	lt, ok, err := a.LiveTrades.Get(ctx, userID, symbol)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Str("symbol", symbol).Msg("cache:out_of_sync reading livetrade before adjust")
	}
	if !ok {
		lt = domain.LiveTrade{UserID: userID, Symbol: symbol, Stop: newStop}
	}
	updated := lt.WithTightenedStop(newStop, meta)
	if err := a.LiveTrades.Put(ctx, updated); err != nil {
		log.Warn().Err(err).Str("user", userID).Str("symbol", symbol).Msg("cache:out_of_sync writing livetrade after adjust")
		return false
	}
	return true
}

func findPosition(positions []venue.Position, symbol string) *venue.Position {
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].PositionAmt != 0 {
			return &positions[i]
		}
	}
	return nil
}

func conditionalOrders(ctx context.Context, client venue.Client, symbol string) ([]venue.Order, error) {
	var out []venue.Order
	classical, err := client.OpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out = append(out, classical...)
	algo, err := client.OpenConditionalOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out = append(out, algo...)
	return out, nil
}

func firstStopTrigger(orders []venue.Order) (float64, bool) {
	for _, o := range orders {
		if o.Type == venue.KindStopMarket {
			return o.TriggerPrice, true
		}
	}
	return 0, false
}

func cancelStopOrders(ctx context.Context, client venue.Client, symbol string, orders []venue.Order) error {
	for _, o := range orders {
		if o.Type != venue.KindStopMarket {
			continue
		}
		var err error
		if o.AlgoID != "" {
			err = client.CancelConditional(ctx, symbol, o.AlgoID)
		} else {
			err = client.CancelOrder(ctx, symbol, o.OrderID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func roundToTick(value, tick float64) float64 {
	if tick <= 0 {
		return value
	}
	return math.Round(value/tick) * tick
}
