package stopadjust

import (
	"context"
	"math"

	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/venue"
)

// HalfCloseMoveBE implements spec §4.4's half-close + move-SL-to-break-even
// operation.
func (a *Adjuster) HalfCloseMoveBE(ctx context.Context, userID string, client venue.Client, symbol string) Result {
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
	qtyHalf := roundDown(math.Abs(pos.PositionAmt)/2, spec.StepSize)

	mark, err := a.Prices.Mark(ctx, symbol)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	if qtyHalf < spec.MinQty || qtyHalf*mark.Price < spec.MinNotional {
		return Result{Reason: "invariant:half_close_quantity_below_minimum"}
	}

	side := venue.Side(direction).Opposite()
	if _, err := client.CreateMarket(ctx, venue.MarketOrderReq{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qtyHalf,
		ReduceOnly: true,
	}); err != nil {
		return Result{Reason: err.Error()}
	}

	remaining, err := client.Positions(ctx, symbol)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	remainingPos := findPosition(remaining, symbol)
	if remainingPos == nil {
		cancelAllConditionals(ctx, client, symbol)
		return Result{Success: true, FullyClosed: true, Note: "fully closed"}
	}

	// spec §4.4 step 5: derive BE from the venue-reported *updated* entry
	// price (post-close re-read), not the pre-close snapshot.
	be := bePrice(direction, remainingPos.EntryPrice, mark.Price, spec.TickSize)

	adjustResult := a.AdjustStop(ctx, userID, client, symbol, be, &domain.TrailingStopMeta{LevelName: "break_even"})
	if !adjustResult.Success {
		// An already-tighter existing SL is not a failure of the half-close
		// itself (spec §4.4 step 6).
		return Result{Success: true, NewStop: be, Note: "BE stop unchanged"}
	}
	return Result{Success: true, NewStop: adjustResult.NewStop, RedisUpdated: adjustResult.RedisUpdated}
}

// bePrice derives the break-even trigger from the venue-reported entry,
// nudging by one tick toward the profitable side if it would otherwise sit
// on the wrong side of mark (spec §4.4 step 5).
func bePrice(direction domain.Direction, entry, mark, tick float64) float64 {
	be := roundToTick(entry, tick)
	if direction == domain.DirectionBuy {
		if mark-be < tick {
			be = roundToTick(mark-tick, tick)
		}
		return be
	}
	if be-mark < tick {
		be = roundToTick(mark+tick, tick)
	}
	return be
}

func cancelAllConditionals(ctx context.Context, client venue.Client, symbol string) {
	orders, err := conditionalOrders(ctx, client, symbol)
	if err != nil {
		return
	}
	for _, o := range orders {
		if o.Type != venue.KindStopMarket && o.Type != venue.KindTakeProfitMarket {
			continue
		}
		if o.AlgoID != "" {
			_ = client.CancelConditional(ctx, symbol, o.AlgoID)
		} else {
			_ = client.CancelOrder(ctx, symbol, o.OrderID)
		}
	}
}
