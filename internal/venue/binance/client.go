// Package binance adapts github.com/adshao/go-binance/v2's USDT-M futures
// client to the venue.Client port. It is the concrete VenueClient this
// deployment uses; original_source (app/utils/binance/*) confirms the
// upstream system this spec was distilled from is Binance USDT-M futures,
// and the STOP_MARKET/TAKE_PROFIT_MARKET + closePosition + workingType
// vocabulary in spec.md §4.1/§6 is Binance futures' own order vocabulary.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"github.com/archer-trading/execution-core/internal/venue"
)

// Adapter implements venue.Client over a single user's futures.Client.
type Adapter struct {
	raw *futures.Client
}

// New builds an Adapter for one fleet user's API credentials. testnet swaps
// the REST base URL to Binance's futures testnet host (spec §6 "Optional
// venue-testnet toggle").
func New(apiKey, secretKey string, testnet bool) *Adapter {
	client := futures.NewClient(apiKey, secretKey)
	if testnet {
		client.BaseURL = "https://testnet.binancefuture.com"
	}
	return &Adapter{raw: client}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// MarkPrice fetches a fresh mark-price snapshot; never cached at this layer
// (spec §4.1 — PriceView owns the optional short-TTL cache, not this port).
func (a *Adapter) MarkPrice(ctx context.Context, symbol string) (venue.MarkPrice, error) {
	rows, err := a.raw.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return venue.MarkPrice{}, classify(err)
	}
	if len(rows) == 0 {
		return venue.MarkPrice{}, venue.NewFatal(venue.KindOther, 0, "no mark price returned for "+symbol, nil)
	}
	return venue.MarkPrice{
		Symbol: symbol,
		Price:  parseFloat(rows[0].MarkPrice),
		Ts:     time.Now(),
	}, nil
}

// OrderBook fetches the top of book for staleness/sanity checks.
func (a *Adapter) OrderBook(ctx context.Context, symbol string, depth int) (venue.BookTop, error) {
	d, err := a.raw.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return venue.BookTop{}, classify(err)
	}
	top := venue.BookTop{Symbol: symbol, Ts: time.Now()}
	if len(d.Bids) > 0 {
		top.BidPrice = parseFloat(d.Bids[0].Price)
	}
	if len(d.Asks) > 0 {
		top.AskPrice = parseFloat(d.Asks[0].Price)
	}
	return top, nil
}

// ExchangeInfo returns the lot/price/notional filters for every symbol, used
// by venue.SymbolSpecCache to refresh on miss (spec §4.1).
func (a *Adapter) ExchangeInfo(ctx context.Context) (map[string]venue.SymbolFilters, error) {
	info, err := a.raw.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make(map[string]venue.SymbolFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		spec := venue.SymbolFilters{Symbol: s.Symbol}
		if lf := s.LotSizeFilter(); lf != nil {
			spec.StepSize = parseFloat(lf.StepSize)
			spec.MinQty = parseFloat(lf.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			spec.TickSize = parseFloat(pf.TickSize)
			spec.MinPrice = parseFloat(pf.MinPrice)
			spec.MaxPrice = parseFloat(pf.MaxPrice)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			spec.MinNotional = parseFloat(mn.Notional)
		}
		out[s.Symbol] = spec
	}
	return out, nil
}

// LeverageBracket returns the highest initial leverage across all of
// symbol's notional brackets; the account's current notional tier is not
// taken into account.
func (a *Adapter) LeverageBracket(ctx context.Context, symbol string) (int, error) {
	brackets, err := a.raw.NewGetLeverageBracketService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classify(err)
	}
	max := 0
	for _, b := range brackets {
		for _, br := range b.Brackets {
			if br.InitialLeverage > max {
				max = br.InitialLeverage
			}
		}
	}
	if max == 0 {
		return 0, venue.NewFatal(venue.KindLeverage, 0, "no leverage bracket found for "+symbol, nil)
	}
	return max, nil
}

// AccountUSDTFree returns the free USDT balance available for new margin.
func (a *Adapter) AccountUSDTFree(ctx context.Context) (float64, error) {
	balances, err := a.raw.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, classify(err)
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return parseFloat(b.AvailableBalance), nil
		}
	}
	return 0, nil
}

// Positions returns open positions, optionally filtered to one symbol.
func (a *Adapter) Positions(ctx context.Context, symbol string) ([]venue.Position, error) {
	svc := a.raw.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]venue.Position, 0, len(rows))
	for _, p := range rows {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, venue.Position{
			Symbol:       p.Symbol,
			PositionAmt:  amt,
			EntryPrice:   parseFloat(p.EntryPrice),
			Leverage:     lev,
			UnrealizedPL: parseFloat(p.UnRealizedProfit),
		})
	}
	return out, nil
}

// OpenOrders returns classical (non-conditional) open orders for symbol, or
// account-wide when symbol is empty (domain.CountMethodOrders needs the
// account-wide count, the same way Positions does).
func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]venue.Order, error) {
	svc := a.raw.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return partition(rows, false), nil
}

// OpenConditionalOrders returns STOP_MARKET/TAKE_PROFIT_MARKET orders for
// symbol. Binance futures exposes these through the same open-orders
// endpoint as classical orders (no separate algo-order channel); this
// adapter partitions them client-side so higher layers can treat the two as
// distinct channels per spec §6, matching what a venue with a genuinely
// separate algo-order bucket (e.g. the teacher's Bitunix client) would do.
func (a *Adapter) OpenConditionalOrders(ctx context.Context, symbol string) ([]venue.Order, error) {
	rows, err := a.raw.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return partition(rows, true), nil
}

func partition(rows []*futures.Order, conditional bool) []venue.Order {
	out := make([]venue.Order, 0, len(rows))
	for _, o := range rows {
		isConditional := o.Type == futures.OrderTypeStopMarket || o.Type == futures.OrderTypeTakeProfitMarket
		if isConditional != conditional {
			continue
		}
		order := venue.Order{
			OrderID:      strconv.FormatInt(o.OrderID, 10),
			Symbol:       o.Symbol,
			Side:         venue.Side(o.Side),
			Status:       venue.OrderStatus(o.Status),
			TriggerPrice:  parseFloat(o.StopPrice),
			ClosePosition: o.ClosePosition,
			WorkingType:   venue.WorkingType(o.WorkingType),
			ReduceOnly:    o.ReduceOnly,
		}
		if isConditional {
			order.AlgoID = order.OrderID
			if o.Type == futures.OrderTypeStopMarket {
				order.Type = venue.KindStopMarket
			} else {
				order.Type = venue.KindTakeProfitMarket
			}
		}
		out = append(out, order)
	}
	return out
}

// CreateMarket places a MARKET entry or exit order.
func (a *Adapter) CreateMarket(ctx context.Context, req venue.MarketOrderReq) (string, error) {
	svc := a.raw.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		NewClientOrderID(clientOrderID(req.ClientOrderID))

	if req.ClosePosition {
		svc = svc.ClosePosition(true)
	} else {
		svc = svc.Quantity(strconv.FormatFloat(req.Quantity, 'f', -1, 64))
		if req.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return "", classify(err)
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}

// CreateConditional installs a STOP_MARKET or TAKE_PROFIT_MARKET conditional
// order with closePosition=true (spec §4.3/§6): no explicit quantity.
func (a *Adapter) CreateConditional(ctx context.Context, req venue.ConditionalOrderReq) (string, error) {
	orderType := futures.OrderTypeStopMarket
	if req.Kind == venue.KindTakeProfitMarket {
		orderType = futures.OrderTypeTakeProfitMarket
	}
	svc := a.raw.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(orderType).
		StopPrice(strconv.FormatFloat(req.TriggerPrice, 'f', -1, 64)).
		WorkingType(futures.WorkingType(req.WorkingType)).
		ClosePosition(req.ClosePosition).
		NewClientOrderID(clientOrderID(req.ClientOrderID))

	order, err := svc.Do(ctx)
	if err != nil {
		return "", classify(err)
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}

// CancelOrder cancels a classical order.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, _ := strconv.ParseInt(orderID, 10, 64)
	_, err := a.raw.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return classify(err)
	}
	return nil
}

// CancelConditional cancels a conditional/algo order. On this adapter it is
// the same cancel-order call as CancelOrder (see OpenConditionalOrders);
// kept distinct at the port level for venues with a genuinely separate
// algo-order cancel endpoint.
func (a *Adapter) CancelConditional(ctx context.Context, symbol, algoID string) error {
	return a.CancelOrder(ctx, symbol, algoID)
}

// SetLeverage applies account leverage for symbol.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := a.raw.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return classify(err)
	}
	return nil
}

// GetOrder fetches a single order's current status, used by
// PositionGuard's fill-poll loop (spec §4.3 step 6b).
func (a *Adapter) GetOrder(ctx context.Context, symbol, orderID string) (venue.Order, error) {
	id, _ := strconv.ParseInt(orderID, 10, 64)
	o, err := a.raw.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return venue.Order{}, classify(err)
	}
	return venue.Order{
		OrderID: strconv.FormatInt(o.OrderID, 10),
		Symbol:  o.Symbol,
		Side:    venue.Side(o.Side),
		Status:  venue.OrderStatus(o.Status),
	}, nil
}

func clientOrderID(hint string) string {
	if hint != "" {
		return hint
	}
	return uuid.New().String()
}

// classify maps a go-binance APIError into the canonical venue taxonomy,
// per the mapping table in spec §4.1.
func classify(err error) error {
	if apiErr, ok := err.(*futures.APIError); ok {
		return venue.ClassifyBinanceError(apiErr.Code, apiErr.Message, 0, err)
	}
	return venue.ClassifyBinanceError(0, fmt.Sprintf("%v", err), 0, err)
}

var _ venue.Client = (*Adapter)(nil)
