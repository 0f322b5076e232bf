package domain

import "time"

// Bar is one OHLCV candle.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// BarParams selects a historical bar window.
type BarParams struct {
	Start      time.Time
	End        time.Time
	Timeframe  string // "1Min", "5Min", "1Hour", "1Day"
	Limit      int
	Adjustment string // "raw", "split", "dividend", "all"
}

// Quote is a best bid/offer snapshot. Last is the midpoint when the venue
// does not report a separate last-trade price.
type Quote struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

// Account is the broker account summary used for portfolio valuation.
type Account struct {
	ID               string  `json:"id"`
	AccountNumber    string  `json:"accountNumber"`
	Status           string  `json:"status"`
	Currency         string  `json:"currency"`
	Cash             float64 `json:"cash"`
	PortfolioValue   float64 `json:"portfolioValue"`
	BuyingPower      float64 `json:"buyingPower"`
	Equity           float64 `json:"equity"`
	DaytradeCount    int     `json:"daytradeCount"`
	PatternDayTrader bool    `json:"patternDayTrader"`
}
