package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// Config holds Alpaca API credentials and endpoints.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API; paper vs live is selected by endpoint
	DataURL   string // market-data API; empty uses the SDK default
}

// AlpacaBroker implements Broker on the Alpaca trading and market-data APIs.
type AlpacaBroker struct {
	trading   *alpaca.Client
	data      *marketdata.Client
	connected atomic.Bool
	logger    *slog.Logger
}

// NewAlpacaBroker creates an AlpacaBroker from the given credentials.
func NewAlpacaBroker(cfg Config, logger *slog.Logger) *AlpacaBroker {
	tradingOpts := alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	}
	dataOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		dataOpts.BaseURL = cfg.DataURL
	}

	return &AlpacaBroker{
		trading: alpaca.NewClient(tradingOpts),
		data:    marketdata.NewClient(dataOpts),
		logger:  logger.With(slog.String("component", "broker"), slog.String("venue", "alpaca")),
	}
}

// Connect verifies connectivity by fetching the account.
func (b *AlpacaBroker) Connect(ctx context.Context) error {
	if b.connected.Load() {
		return nil
	}
	if _, err := b.trading.GetAccount(); err != nil {
		return fmt.Errorf("broker: connect: %w", err)
	}
	b.connected.Store(true)
	b.logger.InfoContext(ctx, "connected to alpaca")
	return nil
}

// Disconnect marks the adapter as disconnected. The underlying HTTP clients
// are stateless.
func (b *AlpacaBroker) Disconnect(ctx context.Context) error {
	b.connected.Store(false)
	b.logger.InfoContext(ctx, "disconnected from alpaca")
	return nil
}

// IsConnected reports whether Connect has succeeded since the last Disconnect.
func (b *AlpacaBroker) IsConnected() bool { return b.connected.Load() }

// GetAccount returns the account's financial summary.
func (b *AlpacaBroker) GetAccount(_ context.Context) (domain.Account, error) {
	acct, err := b.trading.GetAccount()
	if err != nil {
		return domain.Account{}, fmt.Errorf("broker: get account: %w", err)
	}

	return domain.Account{
		ID:               acct.ID,
		AccountNumber:    acct.AccountNumber,
		Status:           string(acct.Status),
		Currency:         acct.Currency,
		Cash:             acct.Cash.InexactFloat64(),
		PortfolioValue:   acct.PortfolioValue.InexactFloat64(),
		BuyingPower:      acct.BuyingPower.InexactFloat64(),
		Equity:           acct.Equity.InexactFloat64(),
		DaytradeCount:    int(acct.DaytradeCount),
		PatternDayTrader: acct.PatternDayTrader,
	}, nil
}

// SubmitOrder places an order at the venue.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req OrderRequest) (domain.BrokerOrder, error) {
	qty := decimal.NewFromFloat(req.Qty)

	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(req.Side),
		Type:          alpacaOrderType(req.Type),
		TimeInForce:   alpacaTIF(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice > 0 {
		lp := decimal.NewFromFloat(req.LimitPrice)
		placeReq.LimitPrice = &lp
	}
	if req.StopPrice > 0 {
		sp := decimal.NewFromFloat(req.StopPrice)
		placeReq.StopPrice = &sp
	}

	order, err := b.trading.PlaceOrder(placeReq)
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("broker: submit order %s: %w", req.Symbol, err)
	}

	b.logger.InfoContext(ctx, "order submitted",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("qty", req.Qty),
		slog.String("broker_order_id", order.ID),
		slog.String("status", string(order.Status)),
	)

	return mapOrder(order), nil
}

// GetOrder fetches current order state from the venue.
func (b *AlpacaBroker) GetOrder(_ context.Context, brokerOrderID string) (domain.BrokerOrder, error) {
	order, err := b.trading.GetOrder(brokerOrderID)
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("broker: get order %s: %w", brokerOrderID, err)
	}
	return mapOrder(order), nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	if err := b.trading.CancelOrder(brokerOrderID); err != nil {
		return fmt.Errorf("broker: cancel order %s: %w", brokerOrderID, err)
	}
	return nil
}

// GetOpenOrders lists all working orders at the venue.
func (b *AlpacaBroker) GetOpenOrders(_ context.Context) ([]domain.BrokerOrder, error) {
	orders, err := b.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("broker: get open orders: %w", err)
	}

	out := make([]domain.BrokerOrder, 0, len(orders))
	for i := range orders {
		out = append(out, mapOrder(&orders[i]))
	}
	return out, nil
}

// CancelAllOrders cancels every open order at the venue.
func (b *AlpacaBroker) CancelAllOrders(ctx context.Context) error {
	if err := b.trading.CancelAllOrders(); err != nil {
		return fmt.Errorf("broker: cancel all orders: %w", err)
	}
	b.logger.WarnContext(ctx, "all open orders cancelled at broker")
	return nil
}

// GetPositions returns all holdings at the venue.
func (b *AlpacaBroker) GetPositions(_ context.Context) ([]domain.BrokerPosition, error) {
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("broker: get positions: %w", err)
	}

	out := make([]domain.BrokerPosition, 0, len(positions))
	for i := range positions {
		out = append(out, mapPosition(&positions[i]))
	}
	return out, nil
}

// GetPosition returns the holding for one symbol, or (nil, nil) when flat.
func (b *AlpacaBroker) GetPosition(_ context.Context, symbol string) (*domain.BrokerPosition, error) {
	position, err := b.trading.GetPosition(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("broker: get position %s: %w", symbol, err)
	}
	pos := mapPosition(position)
	return &pos, nil
}

// ClosePosition liquidates the full position for one symbol.
func (b *AlpacaBroker) ClosePosition(ctx context.Context, symbol string) (domain.BrokerOrder, error) {
	order, err := b.trading.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("broker: close position %s: %w", symbol, err)
	}
	b.logger.WarnContext(ctx, "position close order submitted",
		slog.String("symbol", symbol),
		slog.String("broker_order_id", order.ID),
	)
	return mapOrder(order), nil
}

// CloseAllPositions flattens every holding, cancelling blocking orders first.
func (b *AlpacaBroker) CloseAllPositions(ctx context.Context) error {
	if _, err := b.trading.CloseAllPositions(alpaca.CloseAllPositionsRequest{CancelOrders: true}); err != nil {
		return fmt.Errorf("broker: close all positions: %w", err)
	}
	b.logger.WarnContext(ctx, "all positions flattened at broker")
	return nil
}

// GetLastPrice returns the most recent trade price.
func (b *AlpacaBroker) GetLastPrice(_ context.Context, symbol string) (float64, error) {
	trade, err := b.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, fmt.Errorf("broker: get last price %s: %w", symbol, err)
	}
	return trade.Price, nil
}

// GetQuote returns the latest best bid/offer. Last is the midpoint since the
// quote endpoint does not carry the last-trade price.
func (b *AlpacaBroker) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	quote, err := b.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("broker: get quote %s: %w", symbol, err)
	}

	return domain.Quote{
		Bid:  quote.BidPrice,
		Ask:  quote.AskPrice,
		Last: (quote.BidPrice + quote.AskPrice) / 2,
	}, nil
}

// GetBars fetches historical bars for the symbol. The IEX feed is used, which
// is available on free paper-trading accounts.
func (b *AlpacaBroker) GetBars(_ context.Context, symbol string, params domain.BarParams) ([]domain.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame:  timeframeFromString(params.Timeframe),
		Start:      params.Start,
		End:        params.End,
		TotalLimit: params.Limit,
		Adjustment: adjustmentFromString(params.Adjustment),
		Feed:       marketdata.IEX,
	}

	bars, err := b.data.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("broker: get bars %s: %w", symbol, err)
	}

	out := make([]domain.Bar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, domain.Bar{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}
	return out, nil
}

func mapOrder(o *alpaca.Order) domain.BrokerOrder {
	out := domain.BrokerOrder{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          domainOrderType(o.Type),
		TimeInForce:   domain.TimeInForce(o.TimeInForce),
		FilledQty:     o.FilledQty.InexactFloat64(),
		Status:        normalizeStatus(string(o.Status)),
		SubmittedAt:   o.SubmittedAt,
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.LimitPrice != nil {
		out.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	if o.FilledAt != nil {
		out.FilledAt = *o.FilledAt
	}
	return out
}

func mapPosition(p *alpaca.Position) domain.BrokerPosition {
	qty := p.Qty.InexactFloat64()

	side := domain.PositionSideLong
	if qty < 0 {
		side = domain.PositionSideShort
	}

	out := domain.BrokerPosition{
		Symbol:        p.Symbol,
		Qty:           qty,
		Side:          side,
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		CostBasis:     p.CostBasis.InexactFloat64(),
	}
	if p.MarketValue != nil {
		out.MarketValue = p.MarketValue.InexactFloat64()
	}
	if p.UnrealizedPL != nil {
		out.UnrealizedPL = p.UnrealizedPL.InexactFloat64()
	}
	if p.CurrentPrice != nil {
		out.CurrentPrice = p.CurrentPrice.InexactFloat64()
	}
	return out
}

func alpacaSide(s domain.OrderSide) alpaca.Side {
	if s == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaOrderType(t domain.OrderType) alpaca.OrderType {
	switch t {
	case domain.OrderTypeLimit:
		return alpaca.Limit
	case domain.OrderTypeStop:
		return alpaca.Stop
	case domain.OrderTypeStopLimit:
		return alpaca.StopLimit
	default:
		return alpaca.Market
	}
}

func domainOrderType(t alpaca.OrderType) domain.OrderType {
	switch t {
	case alpaca.Limit:
		return domain.OrderTypeLimit
	case alpaca.Stop:
		return domain.OrderTypeStop
	case alpaca.StopLimit:
		return domain.OrderTypeStopLimit
	default:
		return domain.OrderTypeMarket
	}
}

func alpacaTIF(t domain.TimeInForce) alpaca.TimeInForce {
	switch t {
	case domain.TimeInForceGTC:
		return alpaca.GTC
	case domain.TimeInForceIOC:
		return alpaca.IOC
	case domain.TimeInForceFOK:
		return alpaca.FOK
	default:
		return alpaca.Day
	}
}

// normalizeStatus maps venue status strings onto the local enum. Alpaca spells
// "canceled" with one l.
func normalizeStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "canceled", "cancelled", "pending_cancel":
		return domain.OrderStatusCancelled
	case "filled":
		return domain.OrderStatusFilled
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "rejected":
		return domain.OrderStatusRejected
	case "expired":
		return domain.OrderStatusExpired
	case "accepted":
		return domain.OrderStatusAccepted
	case "pending_new":
		return domain.OrderStatusPendingNew
	default:
		return domain.OrderStatusNew
	}
}

func timeframeFromString(s string) marketdata.TimeFrame {
	switch s {
	case "1Min":
		return marketdata.OneMin
	case "5Min":
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case "1Hour":
		return marketdata.OneHour
	default:
		return marketdata.OneDay
	}
}

func adjustmentFromString(s string) marketdata.Adjustment {
	switch s {
	case "raw":
		return marketdata.Raw
	case "dividend":
		return marketdata.Dividend
	case "all":
		return marketdata.All
	default:
		return marketdata.Split
	}
}
