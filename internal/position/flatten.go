package position

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/common"
	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/venue"
)

// IncidentLogger records the one fatal-but-recoverable state the system
// emits: a naked position that could not be flattened (spec §4.3, I1).
type IncidentLogger interface {
	LogCriticalFlattenFailure(ctx context.Context, userID, symbol string, side domain.Direction, qty float64) error
}

var flattenBackoffs = []time.Duration{
	common.DefaultFlattenBackoff1,
	common.DefaultFlattenBackoff2,
	common.DefaultFlattenBackoff3,
	common.DefaultFlattenBackoff4,
	common.DefaultFlattenBackoff5,
}

// flatten implements Emergency Flatten (spec §4.3): up to 5 backoff
// attempts with closePosition=true, then 2 reduceOnly fallback attempts
// with explicit quantity, then a CRITICAL log on total failure. side is the
// position's own direction; the flattening order trades the opposite side.
func flatten(ctx context.Context, client venue.Client, incidents IncidentLogger, userID, symbol string, side domain.Direction, qty float64) bool {
	opposite := venue.Side(side.Opposite())

	for attempt, backoff := range flattenBackoffs {
		_, err := client.CreateMarket(ctx, venue.MarketOrderReq{
			Symbol:        symbol,
			Side:          opposite,
			ClosePosition: true,
			ClientOrderID: "",
		})
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).
				Msg("emergency flatten market order failed")
		}

		if positionFlat(ctx, client, symbol) {
			cancelRemainingConditionals(ctx, client, symbol)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
	}

	for attempt := 0; attempt < common.DefaultReduceOnlyTries; attempt++ {
		_, err := client.CreateMarket(ctx, venue.MarketOrderReq{
			Symbol:     symbol,
			Side:       opposite,
			Quantity:   qty,
			ReduceOnly: true,
		})
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).
				Msg("emergency flatten reduceOnly fallback failed")
		}
		if positionFlat(ctx, client, symbol) {
			cancelRemainingConditionals(ctx, client, symbol)
			return true
		}
	}

	log.Error().Bool("critical", true).Str("user", userID).Str("symbol", symbol).Str("side", string(side)).Float64("qty", qty).
		Msg("CRITICAL: emergency flatten failed, naked position remains")
	if err := incidents.LogCriticalFlattenFailure(ctx, userID, symbol, side, qty); err != nil {
		log.Error().Err(err).Msg("failed to persist critical flatten-failure incident")
	}
	return false
}

func positionFlat(ctx context.Context, client venue.Client, symbol string) bool {
	positions, err := client.Positions(ctx, symbol)
	if err != nil {
		return false
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.PositionAmt != 0 {
			return false
		}
	}
	return true
}

func cancelRemainingConditionals(ctx context.Context, client venue.Client, symbol string) {
	for _, o := range fetchConditionals(ctx, client, symbol) {
		var err error
		if o.AlgoID != "" {
			err = client.CancelConditional(ctx, symbol, o.AlgoID)
		} else {
			err = client.CancelOrder(ctx, symbol, o.OrderID)
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Str("order", o.OrderID).
				Msg("failed to cancel residual conditional order after flatten")
		}
	}
}

func fetchConditionals(ctx context.Context, client venue.Client, symbol string) []venue.Order {
	var out []venue.Order
	if classical, err := client.OpenOrders(ctx, symbol); err == nil {
		out = append(out, filterConditionalType(classical)...)
	}
	if algo, err := client.OpenConditionalOrders(ctx, symbol); err == nil {
		out = append(out, filterConditionalType(algo)...)
	}
	return out
}

func filterConditionalType(orders []venue.Order) []venue.Order {
	var out []venue.Order
	for _, o := range orders {
		if o.Type == venue.KindStopMarket || o.Type == venue.KindTakeProfitMarket {
			out = append(out, o)
		}
	}
	return out
}
