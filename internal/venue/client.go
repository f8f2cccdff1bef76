package venue

import (
	"context"
	"time"
)

// Side mirrors the exchange's order side vocabulary.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side, used when flattening or closing.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ConditionalKind distinguishes the two conditional order types this system
// installs (spec §4.1).
type ConditionalKind string

const (
	KindStopMarket       ConditionalKind = "STOP_MARKET"
	KindTakeProfitMarket ConditionalKind = "TAKE_PROFIT_MARKET"
)

// WorkingType selects which price feed triggers a conditional order.
type WorkingType string

const (
	WorkingTypeContractPrice WorkingType = "CONTRACT_PRICE"
	WorkingTypeMarkPrice     WorkingType = "MARK_PRICE"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// MarkPrice is a fresh mark-price snapshot.
type MarkPrice struct {
	Symbol string
	Price  float64
	Ts     time.Time
}

// BookTop is the top-of-book snapshot used for staleness/sanity checks.
type BookTop struct {
	Symbol   string
	BidPrice float64
	AskPrice float64
	Ts       time.Time
}

// SymbolFilters are the per-symbol lot/price/notional filters (spec §3).
type SymbolFilters struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MinNotional float64
	MinPrice    float64
	MaxPrice    float64
	MaxLeverage int
}

// Position is a venue-reported open position.
type Position struct {
	Symbol       string
	PositionAmt  float64 // signed: positive long, negative short
	EntryPrice   float64
	Leverage     int
	UnrealizedPL float64
}

// Order is a venue-reported order (classical or conditional/algo).
type Order struct {
	OrderID      string
	AlgoID       string // set for conditional/algo-bucket orders, empty for classical orders
	Symbol       string
	Side         Side
	Type         ConditionalKind
	Status       OrderStatus
	TriggerPrice  float64
	ClosePosition bool
	WorkingType   WorkingType
	ReduceOnly    bool
}

// MarketOrderReq places a MARKET entry or exit order.
type MarketOrderReq struct {
	Symbol        string
	Side          Side
	Quantity      float64 // ignored when ClosePosition is true
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string
}

// ConditionalOrderReq places a STOP_MARKET/TAKE_PROFIT_MARKET conditional
// order with closePosition=true (spec §4.1/§6).
type ConditionalOrderReq struct {
	Symbol        string
	Side          Side
	Kind          ConditionalKind
	TriggerPrice  float64
	WorkingType   WorkingType
	ClosePosition bool
	ClientOrderID string
}

// Client is the VenueClient capability port (spec §4.1). Every method may
// return a *venue.Error; callers branch on its Kind.
type Client interface {
	MarkPrice(ctx context.Context, symbol string) (MarkPrice, error)
	OrderBook(ctx context.Context, symbol string, depth int) (BookTop, error)
	ExchangeInfo(ctx context.Context) (map[string]SymbolFilters, error)
	LeverageBracket(ctx context.Context, symbol string) (maxLeverage int, err error)
	AccountUSDTFree(ctx context.Context) (float64, error)
	Positions(ctx context.Context, symbol string) ([]Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	OpenConditionalOrders(ctx context.Context, symbol string) ([]Order, error)

	CreateMarket(ctx context.Context, req MarketOrderReq) (orderID string, err error)
	CreateConditional(ctx context.Context, req ConditionalOrderReq) (algoID string, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelConditional(ctx context.Context, symbol, algoID string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetOrder(ctx context.Context, symbol, orderID string) (Order, error)
}
