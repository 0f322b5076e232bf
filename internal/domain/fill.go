package domain

import "time"

// Fill is a single execution event against an Order. An order may accumulate
// multiple fills (partial executions); the sum of fill quantities never
// exceeds the broker-reported cumulative filled quantity.
type Fill struct {
	FillID        string    `json:"fillId"`
	OrderID       string    `json:"orderId"`
	BrokerOrderID string    `json:"brokerOrderId"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Price         float64   `json:"price"`
	Qty           float64   `json:"qty"`
	Fee           float64   `json:"fee"`
	FillTs        time.Time `json:"fillTs"`
}
