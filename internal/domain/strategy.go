package domain

import "time"

// StrategyConfig is a strategy's persisted identity and parameter bag.
type StrategyConfig struct {
	StrategyID string         `json:"strategyId"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Enabled    bool           `json:"enabled"`
	Params     map[string]any `json:"params"`
	Symbols    []string       `json:"symbols"`
	Schedule   string         `json:"schedule,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Signal is a strategy's recommendation at one instant. Signals are ephemeral
// inputs: each is converted 1:1 into an OrderIntent by its strategy.
type Signal struct {
	SignalID   string         `json:"signalId"`
	StrategyID string         `json:"strategyId"`
	Symbol     string         `json:"symbol"`
	Side       OrderSide      `json:"side"`
	Strength   float64        `json:"strength"` // 0..1
	Price      float64        `json:"price"`
	Reason     string         `json:"reason"`
	Features   map[string]any `json:"features,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
