package domain

import "time"

// PositionSide classifies a position by the sign of its quantity.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

// PositionSnapshot is one row of the append-only position time series. The
// current position for a symbol is the snapshot with the highest timestamp.
type PositionSnapshot struct {
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"` // signed; positive=long, negative=short
	AvgPrice      float64   `json:"avgPrice"`
	MarketPrice   float64   `json:"marketPrice"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	Ts            time.Time `json:"ts"`
}

// Position is the derived read model over the latest snapshot of one symbol.
type Position struct {
	Symbol           string       `json:"symbol"`
	Qty              float64      `json:"qty"`
	AvgPrice         float64      `json:"avgPrice"`
	MarketPrice      float64      `json:"marketPrice"`
	MarketValue      float64      `json:"marketValue"`
	CostBasis        float64      `json:"costBasis"`
	UnrealizedPnL    float64      `json:"unrealizedPnl"`
	UnrealizedPnLPct float64      `json:"unrealizedPnlPct"`
	Side             PositionSide `json:"side"`
	LastUpdated      time.Time    `json:"lastUpdated"`
}

// PositionFromSnapshot derives the read model from a raw snapshot row.
func PositionFromSnapshot(s PositionSnapshot) Position {
	costBasis := s.Qty * s.AvgPrice
	marketValue := s.Qty * s.MarketPrice

	pnlPct := 0.0
	if costBasis != 0 {
		pnlPct = (s.UnrealizedPnL / costBasis) * 100
	}

	side := PositionSideFlat
	switch {
	case s.Qty > 0:
		side = PositionSideLong
	case s.Qty < 0:
		side = PositionSideShort
	}

	return Position{
		Symbol:           s.Symbol,
		Qty:              s.Qty,
		AvgPrice:         s.AvgPrice,
		MarketPrice:      s.MarketPrice,
		MarketValue:      marketValue,
		CostBasis:        costBasis,
		UnrealizedPnL:    s.UnrealizedPnL,
		UnrealizedPnLPct: pnlPct,
		Side:             side,
		LastUpdated:      s.LastUpdated(),
	}
}

// LastUpdated returns the snapshot timestamp.
func (s PositionSnapshot) LastUpdated() time.Time { return s.Ts }

// BrokerPosition is the venue's authoritative view of one holding.
type BrokerPosition struct {
	Symbol        string
	Qty           float64
	Side          PositionSide
	AvgEntryPrice float64
	MarketValue   float64
	CostBasis     float64
	UnrealizedPL  float64
	CurrentPrice  float64
}

// ReconciliationEntry describes one symbol whose internal quantity drifted
// from the broker's beyond the float tolerance.
type ReconciliationEntry struct {
	Symbol      string  `json:"symbol"`
	InternalQty float64 `json:"internalQty"`
	BrokerQty   float64 `json:"brokerQty"`
	Difference  float64 `json:"difference"` // internal - broker, signed
}

// ReconciliationReport summarizes one internal-vs-broker comparison pass.
type ReconciliationReport struct {
	Matched    bool                  `json:"matched"`
	Mismatches []ReconciliationEntry `json:"mismatches"`
	Total      int                   `json:"totalPositions"`
	MatchCount int                   `json:"matchedCount"`
}

// Exposure aggregates position market values across the portfolio.
type Exposure struct {
	Gross float64 `json:"grossExposure"`
	Net   float64 `json:"netExposure"`
	Long  float64 `json:"longExposure"`
	Short float64 `json:"shortExposure"`
}

// PortfolioValue combines internal snapshots with the broker's cash balance.
type PortfolioValue struct {
	TotalValue    float64 `json:"totalValue"`
	Cash          float64 `json:"cash"`
	LongValue     float64 `json:"longValue"`
	ShortValue    float64 `json:"shortValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}
