// Package repo defines the persistence ports (RulesRepo, TradeRepo,
// HistoryRepo, AuditRepo) and their modernc.org/sqlite-backed
// implementations, grounded on SynapseStrike's store/strategy.go
// JSON-blob-in-a-row pattern.
package repo

import (
	"context"
	"time"

	"github.com/archer-trading/execution-core/internal/domain"
)

// RulesRepo is the read side of per-(user, strategy) configuration.
type RulesRepo interface {
	GetRules(ctx context.Context, userID, strategy string) (domain.UserRules, error)
}

// TradeRepo is the write side: opened trades and exit updates.
type TradeRepo interface {
	InsertTrade(ctx context.Context, t domain.TradeRecord) error
	UpdateExit(ctx context.Context, userID, symbol string, reason domain.ExitReason, exitPrice float64, pnl float64, exitTime time.Time) error
	ActiveTrade(ctx context.Context, userID, symbol string) (domain.TradeRecord, bool, error)
}

// HistoryRepo is the read side of closed-trade history: last trade per
// (user, strategy, symbol) and the consecutive-loss scan (spec §4.2 step 3).
type HistoryRepo interface {
	// LastClosedTrade returns the most recently closed trade for
	// (userID, strategy, symbol), if any.
	LastClosedTrade(ctx context.Context, userID, strategy, symbol string) (domain.TradeRecord, bool, error)
	// ConsecutiveLosses scans the last up-to-limit closed trades for
	// (userID, strategy) newest-first, tallying losses until the first win,
	// and returns the count plus the timestamp of the most recent loss.
	ConsecutiveLosses(ctx context.Context, userID, strategy string, limit int) (count int, lastLossAt time.Time, err error)
}

// AuditRepo records guardian dispatcher actions for after-the-fact review
// (SPEC_FULL §9.1, supplemented from original_source's app/utils/db/audit.py).
type AuditRepo interface {
	RecordGuardianAction(ctx context.Context, action, userID, symbol, result, detail string, at time.Time) error
}
