// Package position implements the atomic entry-SL-TP installer
// (PositionGuard, spec §4.3) and its emergency-flatten invariant: a filled
// position is never left naked.
package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/common"
	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/repo"
	"github.com/archer-trading/execution-core/internal/venue"
)

// PriceSource is the minimal fresh-price capability the guard needs,
// satisfied by pricefeed.View.
type PriceSource interface {
	Mark(ctx context.Context, symbol string) (venue.MarkPrice, error)
}

// LiveTradePublisher publishes the external LiveTrade mirror on open.
type LiveTradePublisher interface {
	Put(ctx context.Context, lt domain.LiveTrade) error
}

// Guard is PositionGuard.
type Guard struct {
	SymbolSpecs *venue.SymbolSpecCache
	Leverage    *venue.LeverageBracketCache
	Prices      PriceSource
	Trades      repo.TradeRepo
	LiveTrades  LiveTradePublisher
	Incidents   IncidentLogger
}

// New builds a Guard from its collaborators.
func New(specs *venue.SymbolSpecCache, lev *venue.LeverageBracketCache, prices PriceSource, trades repo.TradeRepo, live LiveTradePublisher, incidents IncidentLogger) *Guard {
	return &Guard{SymbolSpecs: specs, Leverage: lev, Prices: prices, Trades: trades, LiveTrades: live, Incidents: incidents}
}

// OpenTrade is the single public operation: atomically install a MARKET
// entry plus SL/TP conditional orders for one user (spec §4.3).
func (g *Guard) OpenTrade(ctx context.Context, userID string, client venue.Client, s domain.Signal, r domain.UserRules, now time.Time) Result {
	cleanupOrphans(ctx, client, s.Symbol)

	spec, err := g.SymbolSpecs.Get(ctx, s.Symbol)
	if err != nil {
		return Result{Success: false, Step: StepException, Reason: err.Error()}
	}
	if spec.TickSize <= 0 || spec.StepSize <= 0 || spec.MinQty <= 0 || spec.MinNotional <= 0 {
		return Result{Success: false, Step: StepException, Reason: "invariant:symbol_spec_non_positive"}
	}

	mark, err := g.Prices.Mark(ctx, s.Symbol)
	if err != nil {
		return Result{Success: false, Step: StepException, Reason: err.Error()}
	}

	entry, stop, target, rr, err := reprice(s, mark.Price, spec.TickSize)
	if err != nil {
		return Result{Success: false, Step: StepException, Reason: err.Error()}
	}
	if rr < r.MinRR {
		return Result{Success: false, Step: StepException, Reason: "invariant:rr_below_minimum_after_reprice"}
	}

	balance, err := client.AccountUSDTFree(ctx)
	if err != nil {
		return Result{Success: false, Step: StepException, Reason: err.Error()}
	}
	capital := balance * r.RiskPct
	stopDistance := math.Abs(entry - stop)
	if stopDistance <= 0 {
		return Result{Success: false, Step: StepException, Reason: "invariant:zero_stop_distance"}
	}
	quantity := roundDown(capital/stopDistance, spec.StepSize)
	if quantity < spec.MinQty {
		return Result{Success: false, Step: StepException, Reason: "invariant:quantity_below_min_qty"}
	}
	if quantity*entry < spec.MinNotional {
		return Result{Success: false, Step: StepException, Reason: "invariant:notional_below_minimum"}
	}

	maxBracket, err := g.Leverage.Get(ctx, s.Symbol)
	if err != nil {
		return Result{Success: false, Step: StepException, Reason: err.Error()}
	}
	leverage := r.MaxLeverage
	if maxBracket < leverage {
		leverage = maxBracket
	}
	if err := client.SetLeverage(ctx, s.Symbol, leverage); err != nil && venue.Transient(err) {
		return Result{Success: false, Step: StepException, Reason: err.Error()}
	}

	return g.executeCriticalSection(ctx, userID, client, s, r, entry, stop, target, quantity, leverage, rr, now)
}

// reprice implements spec §4.3 step 3: replace entry with mark, preserving
// absolute SL distance and RR, rounded to tick_size.
func reprice(s domain.Signal, mark, tick float64) (entry, stop, target, rr float64, err error) {
	distance := math.Abs(s.Entry - s.Stop)
	entry = snap(mark, decimalsOf(tick))
	switch s.Direction {
	case domain.DirectionBuy:
		stop = entry - distance
		target = entry + distance*s.RR
	case domain.DirectionSell:
		stop = entry + distance
		target = entry - distance*s.RR
	default:
		return 0, 0, 0, 0, fmt.Errorf("invariant:unknown_direction:%s", s.Direction)
	}
	entry = roundDown(entry, tick)
	stop = roundDown(stop, tick)
	target = roundDown(target, tick)

	newDistance := math.Abs(entry - stop)
	if newDistance <= 0 {
		return 0, 0, 0, 0, fmt.Errorf("invariant:zero_stop_distance_after_round")
	}
	rr = math.Abs(target-entry) / newDistance
	return entry, stop, target, rr, nil
}

func (g *Guard) executeCriticalSection(ctx context.Context, userID string, client venue.Client, s domain.Signal, r domain.UserRules, entry, stop, target, quantity float64, leverage int, rr float64, now time.Time) Result {
	side := venue.Side(s.Direction)

	orderID, err := client.CreateMarket(ctx, venue.MarketOrderReq{
		Symbol:   s.Symbol,
		Side:     side,
		Quantity: quantity,
	})
	if err != nil {
		return Result{Success: false, Step: StepMarketOrder, Reason: err.Error(),
			Entry: entry, StopLoss: stop, TakeProfit: target, Quantity: quantity, Leverage: leverage, RR: rr}
	}

	filled, closedDuringPoll := g.pollForFill(ctx, client, s.Symbol, orderID)
	if !filled {
		positions, _ := client.Positions(ctx, s.Symbol)
		hasPosition := !allFlat(positions, s.Symbol)
		if hasPosition {
			closed := flatten(ctx, client, g.Incidents, userID, s.Symbol, s.Direction, quantity)
			return Result{Success: false, Step: StepWaitFill, Reason: "WAIT_FILL_TIMEOUT",
				PositionClosed: closedPtr(closed), OrderID: orderID,
				Entry: entry, StopLoss: stop, TakeProfit: target, Quantity: quantity, Leverage: leverage, RR: rr}
		}
		return Result{Success: false, Step: StepWaitFill, Reason: "WAIT_FILL_TIMEOUT",
			PositionClosed: closedPtr(false), OrderID: orderID,
			Entry: entry, StopLoss: stop, TakeProfit: target, Quantity: quantity, Leverage: leverage, RR: rr}
	}
	_ = closedDuringPoll

	slID, err := client.CreateConditional(ctx, venue.ConditionalOrderReq{
		Symbol:        s.Symbol,
		Side:          side.Opposite(),
		Kind:          venue.KindStopMarket,
		TriggerPrice:  stop,
		WorkingType:   venue.WorkingTypeContractPrice,
		ClosePosition: true,
	})
	if err != nil {
		closed := flatten(ctx, client, g.Incidents, userID, s.Symbol, s.Direction, quantity)
		return Result{Success: false, Step: StepStopLoss, Reason: err.Error(), PositionClosed: closedPtr(closed),
			OrderID: orderID, Entry: entry, StopLoss: stop, TakeProfit: target, Quantity: quantity, Leverage: leverage, RR: rr}
	}

	tpID, err := client.CreateConditional(ctx, venue.ConditionalOrderReq{
		Symbol:        s.Symbol,
		Side:          side.Opposite(),
		Kind:          venue.KindTakeProfitMarket,
		TriggerPrice:  target,
		WorkingType:   venue.WorkingTypeMarkPrice,
		ClosePosition: true,
	})
	if err != nil {
		closed := flatten(ctx, client, g.Incidents, userID, s.Symbol, s.Direction, quantity)
		return Result{Success: false, Step: StepTakeProfit, Reason: err.Error(), PositionClosed: closedPtr(closed),
			OrderID: orderID, SLOrderID: slID, Entry: entry, StopLoss: stop, TakeProfit: target, Quantity: quantity, Leverage: leverage, RR: rr}
	}

	g.persist(ctx, userID, s, r, entry, stop, target, quantity, leverage, rr, orderID, slID, tpID, now)

	return Result{Success: true, Step: StepAllOK, OrderID: orderID, SLOrderID: slID, TPOrderID: tpID,
		Entry: entry, StopLoss: stop, TakeProfit: target, Quantity: quantity, Leverage: leverage, RR: rr}
}

// pollForFill polls order status once per second up to
// DefaultFillPollAttempts times (spec §4.3 step 6b).
func (g *Guard) pollForFill(ctx context.Context, client venue.Client, symbol, orderID string) (filled bool, sawClosed bool) {
	for i := 0; i < common.DefaultFillPollAttempts; i++ {
		order, err := client.GetOrder(ctx, symbol, orderID)
		if err == nil && order.Status == venue.OrderStatusFilled {
			return true, false
		}
		select {
		case <-ctx.Done():
			return false, false
		case <-time.After(common.DefaultFillPollInterval):
		}
	}
	return false, false
}

func (g *Guard) persist(ctx context.Context, userID string, s domain.Signal, r domain.UserRules, entry, stop, target, quantity float64, leverage int, rr float64, orderID, slID, tpID string, now time.Time) {
	record := domain.TradeRecord{
		Symbol:        s.Symbol,
		UserID:        userID,
		Strategy:      s.Strategy,
		Direction:     s.Direction,
		Orders:        domain.OrderIDs{Entry: orderID, SL: slID, TP: tpID},
		EntryPrice:    entry,
		StopLoss:      stop,
		TakeProfit:    target,
		Quantity:      quantity,
		RR:            rr,
		Leverage:      leverage,
		CapitalRisked: quantity * entry / float64(maxInt(leverage, 1)),
		Probability:   s.Probability,
		Quality:       s.Quality,
		RulesSnapshot: r,
		SignalTime:    s.Timestamp,
		CreatedAt:     now,
		ExitReason:    domain.ExitReasonActive,
		UpdatedAt:     now,
	}
	if err := g.Trades.InsertTrade(ctx, record); err != nil {
		log.Error().Err(err).Str("user", userID).Str("symbol", s.Symbol).Msg("failed to persist trade record after successful open")
	}

	lt := domain.LiveTrade{
		UserID: userID,
		Symbol: s.Symbol,
		Entry:  entry,
		Stop:   stop,
		StopLoss: stop,
		Target:   target,
	}
	if err := g.LiveTrades.Put(ctx, lt); err != nil {
		log.Warn().Err(err).Str("user", userID).Str("symbol", s.Symbol).Msg("cache:out_of_sync publishing livetrade after open")
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
