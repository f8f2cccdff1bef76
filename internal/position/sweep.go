package position

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/venue"
)

// cleanupOrphans cancels any STOP_MARKET/TAKE_PROFIT_MARKET order for
// symbol that predates this trade attempt (spec §4.3 step 1): at pre-flight
// there must be no live position, so any conditional order found here is by
// definition orphaned.
func cleanupOrphans(ctx context.Context, client venue.Client, symbol string) {
	for _, o := range fetchConditionals(ctx, client, symbol) {
		var err error
		if o.AlgoID != "" {
			err = client.CancelConditional(ctx, symbol, o.AlgoID)
		} else {
			err = client.CancelOrder(ctx, symbol, o.OrderID)
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Str("order", o.OrderID).
				Msg("failed to cancel orphan conditional order during pre-flight")
		}
	}
}

// Sweeper checks a caller-supplied list of symbols and, for each one with no
// open position, cancels its remaining conditional orders, independent of
// any single trade attempt; it does not discover symbols on its own (SPEC_FULL §9.1, supplemented
// from original_source's app/utils/orphan_order_detector.py). It is wired
// into a standalone periodic entrypoint (cmd/orphansweep) rather than the
// per-trade critical section.
type Sweeper struct {
	client venue.Client
}

// NewSweeper builds a Sweeper over client.
func NewSweeper(client venue.Client) *Sweeper {
	return &Sweeper{client: client}
}

// SweepOrphans cancels orphan conditional orders across symbols, given the
// set of symbols currently worth checking (typically every symbol with any
// user rule configured, or every symbol with an open order in the last
// sweep).
func (s *Sweeper) SweepOrphans(ctx context.Context, symbols []string) (swept int) {
	for _, symbol := range symbols {
		positions, err := s.client.Positions(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("orphan sweep: positions lookup failed, skipping symbol")
			continue
		}
		if !allFlat(positions, symbol) {
			continue
		}
		before := len(fetchConditionals(ctx, s.client, symbol))
		cleanupOrphans(ctx, s.client, symbol)
		swept += before
	}
	return swept
}

func allFlat(positions []venue.Position, symbol string) bool {
	for _, p := range positions {
		if p.Symbol == symbol && p.PositionAmt != 0 {
			return false
		}
	}
	return true
}
