package binance

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archer-trading/execution-core/internal/venue"
)

func TestClientOrderID_UsesHintWhenProvided(t *testing.T) {
	assert.Equal(t, "my-custom-id", clientOrderID("my-custom-id"))
}

func TestClientOrderID_GeneratesUUIDWhenHintEmpty(t *testing.T) {
	a := clientOrderID("")
	b := clientOrderID("")
	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}

func TestClassify_MapsBinanceAPIError(t *testing.T) {
	err := classify(&futures.APIError{Code: -2019, Message: "Margin is insufficient"})
	ve, ok := err.(*venue.Error)
	require.True(t, ok)
	assert.Equal(t, venue.KindMargin, ve.Kind)
	assert.Equal(t, int64(-2019), ve.Code)
}

func TestClassify_WrapsNonAPIErrorAsTransient(t *testing.T) {
	err := classify(errors.New("dial tcp: connection refused"))
	ve, ok := err.(*venue.Error)
	require.True(t, ok)
	assert.Equal(t, venue.KindTransient, ve.Kind)
}

func TestPartition_SeparatesConditionalFromClassicalOrders(t *testing.T) {
	rows := []*futures.Order{
		{OrderID: 1, Symbol: "BTCUSDT", Type: futures.OrderTypeLimit, Side: futures.SideTypeBuy},
		{OrderID: 2, Symbol: "BTCUSDT", Type: futures.OrderTypeStopMarket, Side: futures.SideTypeSell, StopPrice: "49500", ClosePosition: true},
		{OrderID: 3, Symbol: "BTCUSDT", Type: futures.OrderTypeTakeProfitMarket, Side: futures.SideTypeSell, StopPrice: "51000", ClosePosition: true},
	}

	classical := partition(rows, false)
	require.Len(t, classical, 1)
	assert.Equal(t, "1", classical[0].OrderID)
	assert.Empty(t, classical[0].AlgoID)

	conditional := partition(rows, true)
	require.Len(t, conditional, 2)
	assert.Equal(t, "2", conditional[0].OrderID)
	assert.Equal(t, "2", conditional[0].AlgoID)
	assert.Equal(t, venue.KindStopMarket, conditional[0].Type)
	assert.Equal(t, 49500.0, conditional[0].TriggerPrice)
	assert.Equal(t, "3", conditional[1].OrderID)
	assert.Equal(t, venue.KindTakeProfitMarket, conditional[1].Type)
}

func TestPartition_EmptyInput(t *testing.T) {
	assert.Empty(t, partition(nil, true))
	assert.Empty(t, partition(nil, false))
}
