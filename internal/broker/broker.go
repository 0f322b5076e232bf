// Package broker defines the broker adapter contract and provides the Alpaca
// implementation. The core treats the broker as an opaque remote execution
// venue: any REST-based paper/live brokerage can be substituted behind this
// interface.
package broker

import (
	"context"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// Broker abstracts the execution venue.
type Broker interface {
	// Connection
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Account
	GetAccount(ctx context.Context) (domain.Account, error)

	// Orders
	SubmitOrder(ctx context.Context, req OrderRequest) (domain.BrokerOrder, error)
	GetOrder(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOpenOrders(ctx context.Context) ([]domain.BrokerOrder, error)
	CancelAllOrders(ctx context.Context) error

	// Positions
	GetPositions(ctx context.Context) ([]domain.BrokerPosition, error)
	// GetPosition returns (nil, nil) when the venue holds no position for the
	// symbol.
	GetPosition(ctx context.Context, symbol string) (*domain.BrokerPosition, error)
	ClosePosition(ctx context.Context, symbol string) (domain.BrokerOrder, error)
	CloseAllPositions(ctx context.Context) error

	// Market data
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
	GetBars(ctx context.Context, symbol string, params domain.BarParams) ([]domain.Bar, error)
}

// OrderRequest is the venue-facing shape of an order submission.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          domain.OrderSide
	Type          domain.OrderType
	TimeInForce   domain.TimeInForce
	LimitPrice    float64
	StopPrice     float64
	ClientOrderID string
}
