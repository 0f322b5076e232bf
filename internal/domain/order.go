package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style requested from the broker.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order stays working at the venue.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// OrderStatus tracks the broker-side order lifecycle. The local status mirrors
// whatever the broker last reported; it is never invented locally except for
// "cancelled", which is only written after a broker-confirmed cancel.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the status can no longer change. The fill poller
// only tracks orders whose status is not terminal.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderIntent is an immutable record of a desired trade. It is created once,
// by a strategy or a manual caller, and never mutated afterwards.
type OrderIntent struct {
	IntentID    string      `json:"intentId"`
	StrategyID  string      `json:"strategyId,omitempty"`
	SignalID    string      `json:"signalId,omitempty"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Qty         float64     `json:"qty"`
	OrderType   OrderType   `json:"orderType"`
	LimitPrice  float64     `json:"limitPrice,omitempty"`
	StopPrice   float64     `json:"stopPrice,omitempty"`
	TimeInForce TimeInForce `json:"timeInForce,omitempty"`
	SignalPrice float64     `json:"signalPrice,omitempty"` // price at decision time, for slippage checks
	CreatedAt   time.Time   `json:"createdAt"`
}

// Order is the broker-side representation of an accepted intent. One Order
// maps to exactly one OrderIntent; it exists only after the intent passed risk
// checks and the broker accepted submission.
type Order struct {
	OrderID       string      `json:"orderId"`
	IntentID      string      `json:"intentId"`
	BrokerOrderID string      `json:"brokerOrderId"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Qty           float64     `json:"qty"`
	Status        OrderStatus `json:"status"`
	SubmittedAt   time.Time   `json:"submittedAt"`
	LastUpdateAt  time.Time   `json:"lastUpdateAt"`
}

// BrokerOrder is the venue's view of an order as returned by the broker
// adapter. FilledQty is cumulative; the fill handler records deltas against it.
type BrokerOrder struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	TimeInForce    TimeInForce
	Qty            float64
	FilledQty      float64
	LimitPrice     float64
	FilledAvgPrice float64
	Status         OrderStatus
	SubmittedAt    time.Time
	FilledAt       time.Time
}

// OrderResult is what the Order Router hands back for one submitted intent.
// RiskCheckPassed distinguishes risk rejections from broker-side failures.
type OrderResult struct {
	Success         bool   `json:"success"`
	IntentID        string `json:"intentId"`
	OrderID         string `json:"orderId,omitempty"`
	BrokerOrderID   string `json:"brokerOrderId,omitempty"`
	FailReason      string `json:"failReason,omitempty"`
	RiskCheckPassed bool   `json:"riskCheckPassed"`
}
