package position

import (
	"context"

	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/venue"
)

// ClosePosition forcibly closes an open position for (userID, symbol),
// reusing the Emergency Flatten retry/fallback ladder (spec §4.5 guardian
// "close" action). It is the same no-naked-position machinery PositionGuard
// uses on a failed critical section, applied here as a deliberate action
// rather than a failure recovery.
func (g *Guard) ClosePosition(ctx context.Context, userID string, client venue.Client, symbol string) (closed bool, side domain.Direction, qty float64, found bool) {
	positions, err := client.Positions(ctx, symbol)
	if err != nil {
		return false, "", 0, false
	}
	pos := findOpenPosition(positions, symbol)
	if pos == nil {
		return false, "", 0, false
	}
	side = domain.DirectionBuy
	if pos.PositionAmt < 0 {
		side = domain.DirectionSell
	}
	qty = absFloat(pos.PositionAmt)
	closed = flatten(ctx, client, g.Incidents, userID, symbol, side, qty)
	return closed, side, qty, true
}

func findOpenPosition(positions []venue.Position, symbol string) *venue.Position {
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].PositionAmt != 0 {
			return &positions[i]
		}
	}
	return nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
