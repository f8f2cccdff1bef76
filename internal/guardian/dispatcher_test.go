package guardian

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/position"
	"github.com/archer-trading/execution-core/internal/stopadjust"
	"github.com/archer-trading/execution-core/internal/venue"
)

type fakeDispatchClient struct {
	position     venue.Position
	conditionals []venue.Order
	closed       bool // simulates position clearing on the first close/reduce market order
}

func (f *fakeDispatchClient) MarkPrice(ctx context.Context, symbol string) (venue.MarkPrice, error) {
	return venue.MarkPrice{}, nil
}
func (f *fakeDispatchClient) OrderBook(ctx context.Context, symbol string, depth int) (venue.BookTop, error) {
	return venue.BookTop{}, nil
}
func (f *fakeDispatchClient) ExchangeInfo(ctx context.Context) (map[string]venue.SymbolFilters, error) {
	return nil, nil
}
func (f *fakeDispatchClient) LeverageBracket(ctx context.Context, symbol string) (int, error) {
	return 50, nil
}
func (f *fakeDispatchClient) AccountUSDTFree(ctx context.Context) (float64, error) { return 10000, nil }
func (f *fakeDispatchClient) Positions(ctx context.Context, symbol string) ([]venue.Position, error) {
	if f.closed || f.position.PositionAmt == 0 {
		return nil, nil
	}
	return []venue.Position{f.position}, nil
}
func (f *fakeDispatchClient) OpenOrders(ctx context.Context, symbol string) ([]venue.Order, error) {
	return nil, nil
}
func (f *fakeDispatchClient) OpenConditionalOrders(ctx context.Context, symbol string) ([]venue.Order, error) {
	return f.conditionals, nil
}
func (f *fakeDispatchClient) CreateMarket(ctx context.Context, req venue.MarketOrderReq) (string, error) {
	if req.ClosePosition || req.ReduceOnly {
		f.closed = true
	}
	return "order-1", nil
}
func (f *fakeDispatchClient) CreateConditional(ctx context.Context, req venue.ConditionalOrderReq) (string, error) {
	f.conditionals = append(f.conditionals, venue.Order{OrderID: "algo-1", AlgoID: "algo-1", Symbol: req.Symbol, Type: req.Kind, TriggerPrice: req.TriggerPrice})
	return "algo-1", nil
}
func (f *fakeDispatchClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}
func (f *fakeDispatchClient) CancelConditional(ctx context.Context, symbol, algoID string) error {
	return nil
}
func (f *fakeDispatchClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (f *fakeDispatchClient) GetOrder(ctx context.Context, symbol, orderID string) (venue.Order, error) {
	return venue.Order{Status: venue.OrderStatusFilled}, nil
}

var _ venue.Client = (*fakeDispatchClient)(nil)

type fakeRulesRepo struct {
	rules map[string]domain.UserRules
}

func (f *fakeRulesRepo) GetRules(ctx context.Context, userID, strategy string) (domain.UserRules, error) {
	return f.rules[userID], nil
}

type fakeDispatchTradeRepo struct {
	exits int
}

func (f *fakeDispatchTradeRepo) InsertTrade(ctx context.Context, t domain.TradeRecord) error { return nil }
func (f *fakeDispatchTradeRepo) UpdateExit(ctx context.Context, userID, symbol string, reason domain.ExitReason, exitPrice, pnl float64, exitTime time.Time) error {
	f.exits++
	return nil
}
func (f *fakeDispatchTradeRepo) ActiveTrade(ctx context.Context, userID, symbol string) (domain.TradeRecord, bool, error) {
	return domain.TradeRecord{}, false, nil
}

type fakeDispatchLiveTrades struct {
	deleted []string
}

func (f *fakeDispatchLiveTrades) Get(ctx context.Context, userID, symbol string) (domain.LiveTrade, bool, error) {
	return domain.LiveTrade{}, false, nil
}
func (f *fakeDispatchLiveTrades) Put(ctx context.Context, lt domain.LiveTrade) error { return nil }
func (f *fakeDispatchLiveTrades) Delete(ctx context.Context, userID, symbol string) error {
	f.deleted = append(f.deleted, userID+":"+symbol)
	return nil
}

type fakeDispatchPrices struct{ mark float64 }

func (f *fakeDispatchPrices) Mark(ctx context.Context, symbol string) (venue.MarkPrice, error) {
	return venue.MarkPrice{Symbol: symbol, Price: f.mark}, nil
}

type fakeSpecSource struct{ spec venue.SymbolFilters }

func (f *fakeSpecSource) Get(ctx context.Context, symbol string) (venue.SymbolFilters, error) {
	return f.spec, nil
}

var _ stopadjust.SpecSource = (*fakeSpecSource)(nil)

func testSpec() venue.SymbolFilters {
	return venue.SymbolFilters{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001, MinNotional: 5, MinPrice: 1, MaxPrice: 1000000, MaxLeverage: 50}
}

func buildDispatcher(users []UserAccount, rules map[string]domain.UserRules, prices *fakeDispatchPrices, trades *fakeDispatchTradeRepo, live *fakeDispatchLiveTrades) *Dispatcher {
	adjuster := stopadjust.New(&fakeSpecSource{spec: testSpec()}, prices, live)
	return &Dispatcher{
		Users:      users,
		Rules:      &fakeRulesRepo{rules: rules},
		Trades:     trades,
		LiveTrades: live,
		Prices:     prices,
		Adjuster:   adjuster,
		Guard:      position.New(nil, nil, prices, trades, live, nil),
	}
}

func TestDispatch_CloseParallel_Success(t *testing.T) {
	c1 := &fakeDispatchClient{position: venue.Position{Symbol: "BTCUSDT", PositionAmt: 1}}
	c2 := &fakeDispatchClient{position: venue.Position{Symbol: "BTCUSDT", PositionAmt: -2}}
	users := []UserAccount{{UserID: "u1", Client: c1}, {UserID: "u2", Client: c2}}
	rules := map[string]domain.UserRules{
		"u1": {UseGuardian: true}, "u2": {UseGuardian: true},
	}
	prices := &fakeDispatchPrices{mark: 50000}
	trades := &fakeDispatchTradeRepo{}
	live := &fakeDispatchLiveTrades{}
	d := buildDispatcher(users, rules, prices, trades, live)

	summary := d.Dispatch(context.Background(), Envelope{
		Action: ActionClose, Symbol: "BTCUSDT",
		MarketContext: MarketContext{TriggerPrice: 50000, Timestamp: time.Now()},
	})

	assert.Equal(t, 2, summary.TotalUsers)
	assert.Equal(t, 2, summary.SuccessfulUsers)
	assert.Equal(t, 1.0, summary.SuccessRate)
	assert.Equal(t, 2, trades.exits)
	assert.Len(t, live.deleted, 2)
}

func TestDispatch_CloseSkipsWhenGuardianDisabled(t *testing.T) {
	c1 := &fakeDispatchClient{position: venue.Position{Symbol: "BTCUSDT", PositionAmt: 1}}
	users := []UserAccount{{UserID: "u1", Client: c1}}
	rules := map[string]domain.UserRules{"u1": {UseGuardian: false}}
	d := buildDispatcher(users, rules, &fakeDispatchPrices{mark: 50000}, &fakeDispatchTradeRepo{}, &fakeDispatchLiveTrades{})

	summary := d.Dispatch(context.Background(), Envelope{
		Action: ActionClose, Symbol: "BTCUSDT",
		MarketContext: MarketContext{TriggerPrice: 50000, Timestamp: time.Now()},
	})
	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].Success)
	assert.Equal(t, "guardian_disabled", summary.Results[0].Reason)
}

func TestDispatch_CloseRejectsStaleDecision(t *testing.T) {
	c1 := &fakeDispatchClient{position: venue.Position{Symbol: "BTCUSDT", PositionAmt: 1}}
	users := []UserAccount{{UserID: "u1", Client: c1}}
	rules := map[string]domain.UserRules{"u1": {UseGuardian: true}}
	d := buildDispatcher(users, rules, &fakeDispatchPrices{mark: 50000}, &fakeDispatchTradeRepo{}, &fakeDispatchLiveTrades{})

	summary := d.Dispatch(context.Background(), Envelope{
		Action: ActionClose, Symbol: "BTCUSDT",
		MarketContext: MarketContext{TriggerPrice: 50000, Timestamp: time.Now().Add(-2 * time.Minute)},
	})
	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].Success)
	assert.Equal(t, "guardian:close_too_stale", summary.Results[0].Reason)
	assert.False(t, c1.closed)
}

func TestDispatch_CloseNoOpenPosition(t *testing.T) {
	c1 := &fakeDispatchClient{}
	users := []UserAccount{{UserID: "u1", Client: c1}}
	rules := map[string]domain.UserRules{"u1": {UseGuardian: true}}
	d := buildDispatcher(users, rules, &fakeDispatchPrices{mark: 50000}, &fakeDispatchTradeRepo{}, &fakeDispatchLiveTrades{})

	summary := d.Dispatch(context.Background(), Envelope{
		Action: ActionClose, Symbol: "BTCUSDT",
		MarketContext: MarketContext{TriggerPrice: 50000, Timestamp: time.Now()},
	})
	assert.False(t, summary.Results[0].Success)
	assert.Equal(t, "invariant:no_open_position", summary.Results[0].Reason)
}

func TestDispatch_AdjustSequential_UsesRequestedStopWithinDriftBand(t *testing.T) {
	c1 := &fakeDispatchClient{
		position:     venue.Position{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 49000},
		conditionals: []venue.Order{{OrderID: "sl-1", AlgoID: "sl-1", Symbol: "BTCUSDT", Type: venue.KindStopMarket, TriggerPrice: 49000}},
	}
	users := []UserAccount{{UserID: "u1", Client: c1}}
	rules := map[string]domain.UserRules{"u1": {UseGuardian: true}}
	prices := &fakeDispatchPrices{mark: 50010}
	d := buildDispatcher(users, rules, prices, &fakeDispatchTradeRepo{}, &fakeDispatchLiveTrades{})

	summary := d.Dispatch(context.Background(), Envelope{
		Action: ActionAdjust, Symbol: "BTCUSDT",
		Stop:                  49500,
		MarketContext:         MarketContext{TriggerPrice: 50000, Timestamp: time.Now()},
		MaxAcceptableDriftPct: 1.0,
	})
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Success)
}

func TestDispatch_HalfClose_RejectsWithoutProfit(t *testing.T) {
	c1 := &fakeDispatchClient{position: venue.Position{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 49000}}
	users := []UserAccount{{UserID: "u1", Client: c1}}
	rules := map[string]domain.UserRules{"u1": {UseGuardian: true, UseGuardianHalf: true}}
	prices := &fakeDispatchPrices{mark: 48000} // long underwater
	d := buildDispatcher(users, rules, prices, &fakeDispatchTradeRepo{}, &fakeDispatchLiveTrades{})

	entry := 49000.0
	side := domain.DirectionBuy
	summary := d.Dispatch(context.Background(), Envelope{
		Action: ActionHalfClose, Symbol: "BTCUSDT",
		MarketContext: MarketContext{TriggerPrice: 48000, Timestamp: time.Now()},
		Entry:         &entry,
		Side:          &side,
	})
	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].Success)
	assert.Equal(t, "guardian:no_profit", summary.Results[0].Reason)
}

func TestDispatch_HalfClose_DisabledPerUser(t *testing.T) {
	c1 := &fakeDispatchClient{position: venue.Position{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 49000}}
	users := []UserAccount{{UserID: "u1", Client: c1}}
	rules := map[string]domain.UserRules{"u1": {UseGuardian: true, UseGuardianHalf: false}}
	d := buildDispatcher(users, rules, &fakeDispatchPrices{mark: 50000}, &fakeDispatchTradeRepo{}, &fakeDispatchLiveTrades{})

	summary := d.Dispatch(context.Background(), Envelope{
		Action: ActionHalfClose, Symbol: "BTCUSDT",
		MarketContext: MarketContext{TriggerPrice: 50000, Timestamp: time.Now()},
	})
	assert.False(t, summary.Results[0].Success)
	assert.Equal(t, "guardian_half_disabled", summary.Results[0].Reason)
}

func TestResolveAdjustStop_WithinBandReturnsRequestedStop(t *testing.T) {
	env := Envelope{Stop: 49800, MarketContext: MarketContext{TriggerPrice: 50000}, MaxAcceptableDriftPct: 1.0}
	assert.Equal(t, 49800.0, resolveAdjustStop(env, 0.3, 50150))
}

func TestResolveAdjustStop_PicksUpScenario(t *testing.T) {
	env := Envelope{
		MarketContext:         MarketContext{TriggerPrice: 50000},
		MaxAcceptableDriftPct: 0.2,
		PriceScenarios:        &PriceScenarios{OriginalStop: 49000, IfPriceUp05Pct: 49250, IfPriceDown05Pct: 48750, IfPriceUp1Pct: 49500, IfPriceDown1Pct: 48500},
	}
	assert.Equal(t, 49250.0, resolveAdjustStop(env, 0.5, 50250))
	assert.Equal(t, 48750.0, resolveAdjustStop(env, 0.5, 49750))
	assert.Equal(t, 49500.0, resolveAdjustStop(env, 1.0, 50500))
	assert.Equal(t, 49000.0, resolveAdjustStop(env, 5.0, 52500))
}

func TestDriftPct(t *testing.T) {
	assert.Equal(t, 0.0, driftPct(50000, 0))
	assert.InDelta(t, 1.0, driftPct(50500, 50000), 1e-9)
	assert.InDelta(t, 1.0, driftPct(49500, 50000), 1e-9)
}

func TestInProfit(t *testing.T) {
	assert.True(t, inProfit(domain.DirectionBuy, 49000, 50000))
	assert.False(t, inProfit(domain.DirectionBuy, 49000, 48000))
	assert.True(t, inProfit(domain.DirectionSell, 50000, 49000))
	assert.False(t, inProfit(domain.DirectionSell, 50000, 51000))
}
