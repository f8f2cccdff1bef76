package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archer-trading/execution-core/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	r, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func insertUserRules(t *testing.T, r *SQLiteRepo, userID, strategy, configJSON, bannedJSON string) {
	t.Helper()
	_, err := r.db.Exec(
		`INSERT INTO user_rules (user_id, strategy, rules_config, banned_symbols) VALUES (?,?,?,?)`,
		userID, strategy, configJSON, bannedJSON,
	)
	require.NoError(t, err)
}

func TestSQLiteRepo_GetRules(t *testing.T) {
	r := openTestRepo(t)
	insertUserRules(t, r, "u1", "archer_model",
		`{"enabled":true,"min_probability":65,"min_rr":1.5,"risk_pct":0.01,"max_leverage":20,"use_guardian":true}`,
		`["dogeusdt"]`)

	rules, err := r.GetRules(context.Background(), "u1", "archer_model")
	require.NoError(t, err)
	assert.True(t, rules.Enabled)
	assert.Equal(t, 65.0, rules.MinProbability)
	assert.Equal(t, 1.5, rules.MinRR)
	assert.Equal(t, 0.01, rules.RiskPct)
	assert.Equal(t, 20, rules.MaxLeverage)
	assert.True(t, rules.UseGuardian)
	assert.True(t, rules.IsSymbolBanned("dogeusdt"))
}

func TestSQLiteRepo_GetRules_NotFound(t *testing.T) {
	r := openTestRepo(t)
	_, err := r.GetRules(context.Background(), "ghost", "archer_model")
	assert.Error(t, err)
}

func TestSQLiteRepo_InsertAndFetchActiveTrade(t *testing.T) {
	r := openTestRepo(t)
	now := time.Now().UTC().Truncate(time.Second)
	trade := domain.TradeRecord{
		UserID: "u1", Strategy: "archer_model", Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		Orders:        domain.OrderIDs{Entry: "e1", SL: "sl1", TP: "tp1"},
		EntryPrice:    50010, StopLoss: 49510, TakeProfit: 51010,
		Quantity:      0.2, RR: 2, Leverage: 20, CapitalRisked: 500.1,
		Probability:   70, SignalTime: now, CreatedAt: now,
	}
	require.NoError(t, r.InsertTrade(context.Background(), trade))

	active, found, err := r.ActiveTrade(context.Background(), "u1", "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "archer_model", active.Strategy)
	assert.Equal(t, "e1", active.Orders.Entry)
	assert.Equal(t, 50010.0, active.EntryPrice)
	assert.Equal(t, domain.ExitReasonActive, active.ExitReason)
}

func TestSQLiteRepo_ActiveTrade_NoneFound(t *testing.T) {
	r := openTestRepo(t)
	_, found, err := r.ActiveTrade(context.Background(), "ghost", "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteRepo_UpdateExit_ClosesActiveTrade(t *testing.T) {
	r := openTestRepo(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, r.InsertTrade(context.Background(), domain.TradeRecord{
		UserID: "u1", Strategy: "archer_model", Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		EntryPrice: 50000, StopLoss: 49500, TakeProfit: 51000, Quantity: 0.1, RR: 2, Leverage: 10,
		SignalTime: now, CreatedAt: now,
	}))

	err := r.UpdateExit(context.Background(), "u1", "BTCUSDT", domain.ExitReasonTargetHit, 51000, 100, now.Add(time.Hour))
	require.NoError(t, err)

	_, found, err := r.ActiveTrade(context.Background(), "u1", "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found, "trade should no longer be active after exit")
}

func TestSQLiteRepo_UpdateExit_NoActiveTradeErrors(t *testing.T) {
	r := openTestRepo(t)
	err := r.UpdateExit(context.Background(), "ghost", "BTCUSDT", domain.ExitReasonTargetHit, 51000, 100, time.Now())
	assert.Error(t, err)
}

func TestSQLiteRepo_ConsecutiveLosses_StopsAtFirstWin(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-24 * time.Hour)

	seed := func(symbol string, reason domain.ExitReason, at time.Time) {
		require.NoError(t, r.InsertTrade(ctx, domain.TradeRecord{
			UserID: "u1", Strategy: "archer_model", Symbol: symbol, Direction: domain.DirectionBuy,
			EntryPrice: 100, StopLoss: 90, TakeProfit: 110, Quantity: 1, RR: 1, Leverage: 1,
			SignalTime: at, CreatedAt: at,
		}))
		require.NoError(t, r.UpdateExit(ctx, "u1", symbol, reason, 100, -1, at))
	}

	// Oldest first: win, loss, loss, loss (newest-first scan should stop at
	// the win after counting 3 losses).
	seed("AAAUSDT", domain.ExitReasonTargetHit, base)
	seed("BBBUSDT", domain.ExitReasonStopHit, base.Add(time.Hour))
	seed("CCCUSDT", domain.ExitReasonStopHit, base.Add(2*time.Hour))
	seed("DDDUSDT", domain.ExitReasonStopHit, base.Add(3*time.Hour))

	count, lastLossAt, err := r.ConsecutiveLosses(ctx, "u1", "archer_model", 50)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.WithinDuration(t, base.Add(3*time.Hour), lastLossAt, time.Second)
}

func TestSQLiteRepo_LastClosedTrade(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, r.InsertTrade(ctx, domain.TradeRecord{
		UserID: "u1", Strategy: "archer_model", Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		EntryPrice: 100, StopLoss: 90, TakeProfit: 110, Quantity: 1, RR: 1, Leverage: 1,
		SignalTime: now, CreatedAt: now,
	}))
	require.NoError(t, r.UpdateExit(ctx, "u1", "BTCUSDT", domain.ExitReasonStopHit, 90, -10, now))

	last, found, err := r.LastClosedTrade(ctx, "u1", "archer_model", "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.ExitReasonStopHit, last.ExitReason)
}

func TestSQLiteRepo_LastClosedTrade_NoneFound(t *testing.T) {
	r := openTestRepo(t)
	_, found, err := r.LastClosedTrade(context.Background(), "ghost", "archer_model", "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteRepo_RecordGuardianAction(t *testing.T) {
	r := openTestRepo(t)
	err := r.RecordGuardianAction(context.Background(), "close", "u1", "BTCUSDT", "success", "", time.Now())
	assert.NoError(t, err)
}
