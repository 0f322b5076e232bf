package domain

import "time"

// TradingMode selects paper or live execution. Several risk checks change
// behavior between the two.
type TradingMode string

const (
	TradingModePaper TradingMode = "paper"
	TradingModeLive  TradingMode = "live"
)

// RiskLimits is the mutable limit configuration read by the risk engine on
// every check. When the store is unreachable the engine falls back to the
// static defaults from configuration.
type RiskLimits struct {
	MaxDailyLoss        float64 `json:"maxDailyLoss"`
	MaxPositionUsd      float64 `json:"maxPositionUsd"`
	MaxGrossExposureUsd float64 `json:"maxGrossExposureUsd"`
	MaxTradesPerDay     int     `json:"maxTradesPerDay"`
	MaxOrderSlippageBps float64 `json:"maxOrderSlippageBps"`
}

// CheckResult is the outcome of a single named risk check. Degraded marks a
// pass that was granted because the check's data source was unavailable
// (fail-open checks only); it keeps the asymmetry between fail-open and
// fail-closed checks auditable.
type CheckResult struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Degraded   bool   `json:"degraded,omitempty"`
	FailReason string `json:"failReason,omitempty"`
}

// RiskCheckResult is the outcome of evaluating one intent. Checks run in a
// fixed order with short-circuit semantics: ChecksFailed holds at most the
// single first-failing check, and no later check is evaluated.
type RiskCheckResult struct {
	Passed         bool       `json:"passed"`
	FailReason     string     `json:"failReason,omitempty"`
	ChecksPassed   []string   `json:"checksPassed"`
	ChecksFailed   []string   `json:"checksFailed"`
	LimitsSnapshot RiskLimits `json:"limitsSnapshot"`
}

// DailyPnL is the per-day profit-and-loss aggregate. Realized P&L on sells is
// aggregated here, never in the fill handler's position math.
type DailyPnL struct {
	Date          string  `json:"date"` // YYYY-MM-DD
	RealizedPnL   float64 `json:"realizedPnl"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	Fees          float64 `json:"fees"`
	NetPnL        float64 `json:"netPnl"`
	TradeCount    int     `json:"tradeCount"`
}

// ModeSwitch records one paper/live trading-mode transition; the mode-lock
// check reads the most recent row to enforce the live-mode cooldown.
type ModeSwitch struct {
	FromMode   TradingMode `json:"fromMode"`
	ToMode     TradingMode `json:"toMode"`
	Actor      string      `json:"actor"`
	SwitchedAt time.Time   `json:"switchedAt"`
}

// WhitelistEntry is one row of the tradable-symbol whitelist.
type WhitelistEntry struct {
	Symbol  string `json:"symbol"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// RiskBreach is a persisted failed risk check, surfaced on the breaches API.
type RiskBreach struct {
	IntentID   string     `json:"intentId"`
	FailReason string     `json:"failReason"`
	Limits     RiskLimits `json:"limits"`
	Ts         time.Time  `json:"ts"`
}
