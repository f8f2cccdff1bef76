package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpecClient struct {
	Client
	info      map[string]SymbolFilters
	leverage  int
	err       error
	callCount int
}

func (f *fakeSpecClient) ExchangeInfo(ctx context.Context) (map[string]SymbolFilters, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeSpecClient) LeverageBracket(ctx context.Context, symbol string) (int, error) {
	f.callCount++
	if f.err != nil {
		return 0, f.err
	}
	return f.leverage, nil
}

func TestSymbolSpecCache_FetchesOnMiss(t *testing.T) {
	client := &fakeSpecClient{info: map[string]SymbolFilters{"BTCUSDT": {Symbol: "BTCUSDT", TickSize: 0.1}}}
	c := NewSymbolSpecCache(client, time.Hour)
	spec, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.1, spec.TickSize)
	assert.Equal(t, 1, client.callCount)
}

func TestSymbolSpecCache_ServesFromCacheWithinTTL(t *testing.T) {
	client := &fakeSpecClient{info: map[string]SymbolFilters{"BTCUSDT": {Symbol: "BTCUSDT", TickSize: 0.1}}}
	c := NewSymbolSpecCache(client, time.Hour)
	_, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount)
}

func TestSymbolSpecCache_RefetchesAfterTTLExpiry(t *testing.T) {
	client := &fakeSpecClient{info: map[string]SymbolFilters{"BTCUSDT": {Symbol: "BTCUSDT", TickSize: 0.1}}}
	c := NewSymbolSpecCache(client, time.Millisecond)
	_, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, client.callCount)
}

func TestSymbolSpecCache_ServesStaleOnRefreshFailure(t *testing.T) {
	client := &fakeSpecClient{info: map[string]SymbolFilters{"BTCUSDT": {Symbol: "BTCUSDT", TickSize: 0.1}}}
	c := NewSymbolSpecCache(client, time.Millisecond)
	_, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	client.err = errors.New("exchange unreachable")
	time.Sleep(5 * time.Millisecond)
	spec, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.1, spec.TickSize)
}

func TestSymbolSpecCache_EmptyCacheOnRefreshFailureIsHardError(t *testing.T) {
	client := &fakeSpecClient{err: errors.New("exchange unreachable")}
	c := NewSymbolSpecCache(client, time.Hour)
	_, err := c.Get(context.Background(), "BTCUSDT")
	require.Error(t, err)
}

func TestSymbolSpecCache_SymbolNotInExchangeInfo(t *testing.T) {
	client := &fakeSpecClient{info: map[string]SymbolFilters{"ETHUSDT": {Symbol: "ETHUSDT"}}}
	c := NewSymbolSpecCache(client, time.Hour)
	_, err := c.Get(context.Background(), "BTCUSDT")
	require.Error(t, err)
}

func TestLeverageBracketCache_FetchesAndCaches(t *testing.T) {
	client := &fakeSpecClient{leverage: 50}
	c := NewLeverageBracketCache(client, time.Hour)
	lev, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50, lev)
	_, err = c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount)
}

func TestLeverageBracketCache_ServesStaleOnRefreshFailure(t *testing.T) {
	client := &fakeSpecClient{leverage: 50}
	c := NewLeverageBracketCache(client, time.Millisecond)
	_, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	client.err = errors.New("exchange unreachable")
	time.Sleep(5 * time.Millisecond)
	lev, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50, lev)
}

type fakeRequestCacheClient struct {
	Client
	positionCalls int
	orderCalls    int
}

func (f *fakeRequestCacheClient) Positions(ctx context.Context, symbol string) ([]Position, error) {
	f.positionCalls++
	return []Position{{Symbol: symbol, PositionAmt: 1}}, nil
}

func (f *fakeRequestCacheClient) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	f.orderCalls++
	return []Order{{Symbol: symbol, OrderID: "o1"}}, nil
}

func TestRequestCache_MemoizesWithinRequest(t *testing.T) {
	inner := &fakeRequestCacheClient{}
	rc := NewRequestCache(inner)

	_, err := rc.Positions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	_, err = rc.Positions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.positionCalls)

	_, err = rc.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	_, err = rc.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.orderCalls)
}

func TestRequestCache_DoesNotShareAcrossSymbols(t *testing.T) {
	inner := &fakeRequestCacheClient{}
	rc := NewRequestCache(inner)
	_, _ = rc.Positions(context.Background(), "BTCUSDT")
	_, _ = rc.Positions(context.Background(), "ETHUSDT")
	assert.Equal(t, 2, inner.positionCalls)
}

func TestWithRequestCache_RoundTrip(t *testing.T) {
	inner := &fakeRequestCacheClient{}
	ctx := WithRequestCache(context.Background(), inner)
	rc, ok := RequestCacheFrom(ctx)
	require.True(t, ok)
	require.NotNil(t, rc)

	_, ok = RequestCacheFrom(context.Background())
	assert.False(t, ok)
}
