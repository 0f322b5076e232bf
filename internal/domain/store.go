package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// OrderStore persists order intents and broker orders. Submission and
// cancellation bookkeeping are transactional units: intent, order, and audit
// entry commit together or not at all.
type OrderStore interface {
	// RecordSubmission persists the intent, its accepted order, and one audit
	// entry inside a single transaction.
	RecordSubmission(ctx context.Context, intent OrderIntent, order Order, auditDiff map[string]any) error
	// MarkCancelled sets the local status to cancelled and appends an audit
	// entry in one transaction. Callers must have a broker-confirmed cancel
	// before invoking it.
	MarkCancelled(ctx context.Context, brokerOrderID, actor string) error
	GetByBrokerID(ctx context.Context, brokerOrderID string) (Order, error)
	// ListOpen returns orders whose local status is not yet terminal, oldest
	// first.
	ListOpen(ctx context.Context) ([]Order, error)
	List(ctx context.Context, opts ListOpts) ([]Order, error)
}

// FillUpdate describes the atomic result of examining one order against the
// broker: an optional status change, at most one new delta fill, and the
// position snapshot that fill produces.
type FillUpdate struct {
	Status    OrderStatus
	Fill      *Fill
	Snapshot  *PositionSnapshot
	AuditDiff map[string]any
}

// FillLedger serializes fill recording per order. ProcessWithLock opens a
// transaction, acquires a row-level lock on the order, invokes fn with the
// order and the sum of locally recorded fill quantities, and applies the
// returned update atomically. Overlapping poll cycles for the same order are
// therefore serialized, which is what makes the cumulative-delta fill
// computation idempotent.
type FillLedger interface {
	ProcessWithLock(ctx context.Context, orderID string, fn func(ctx context.Context, order Order, localFilledQty float64) (*FillUpdate, error)) error
	ListByOrder(ctx context.Context, orderID string) ([]Fill, error)
}

// PositionStore reads and appends position snapshots. Snapshots are
// append-only; the current position per symbol is the max-timestamp row.
type PositionStore interface {
	Latest(ctx context.Context, symbol string) (PositionSnapshot, error)
	LatestAll(ctx context.Context) ([]PositionSnapshot, error)
	History(ctx context.Context, symbol string, limit int) ([]PositionSnapshot, error)
	Append(ctx context.Context, snap PositionSnapshot) error
}

// RiskStore provides the risk engine's persistent inputs and its check log.
type RiskStore interface {
	// Limits returns the current limit rows merged over the given defaults.
	Limits(ctx context.Context, defaults RiskLimits) (RiskLimits, error)
	// LogCheck appends one risk check row. Failures to persist must be treated
	// as non-fatal by callers.
	LogCheck(ctx context.Context, intentID string, res RiskCheckResult) error
	WhitelistEntry(ctx context.Context, symbol string) (WhitelistEntry, error)
	// LastModeSwitch returns the most recent trading-mode switch, or
	// ErrNotFound when no switch has ever been recorded.
	LastModeSwitch(ctx context.Context) (ModeSwitch, error)
	RecordModeSwitch(ctx context.Context, sw ModeSwitch) error
	// TodayPnL returns today's P&L aggregate, zero-valued when absent.
	TodayPnL(ctx context.Context) (DailyPnL, error)
	ListBreaches(ctx context.Context, limit int) ([]RiskBreach, error)
}

// KillSwitchStore persists the singleton kill-switch state, its append-only
// event log, and the service heartbeat used by the deadman check.
type KillSwitchStore interface {
	State(ctx context.Context) (KillSwitchState, error)
	// Trigger flips the state to triggered and appends the event in one
	// transaction. When actions is non-nil it runs inside the transaction
	// after the state flip; whatever detail it returns is recorded on the
	// event (hard-mode broker action outcomes).
	Trigger(ctx context.Context, event KillSwitchEvent, actions func(ctx context.Context) map[string]any) error
	// Reset re-arms the switch unconditionally.
	Reset(ctx context.Context, actor string) error
	Events(ctx context.Context, limit int) ([]KillSwitchEvent, error)
	Heartbeat(ctx context.Context, service string) error
	LastHeartbeat(ctx context.Context, service string) (time.Time, error)
}

// StrategyStore persists strategy configurations.
type StrategyStore interface {
	Upsert(ctx context.Context, cfg StrategyConfig) error
	SetEnabled(ctx context.Context, strategyID string, enabled bool) error
	UpdateParams(ctx context.Context, strategyID string, params map[string]any) error
	List(ctx context.Context) ([]StrategyConfig, error)
}

// SignalStore persists generated signals for audit and analysis.
type SignalStore interface {
	Insert(ctx context.Context, sig Signal) error
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, actor, action, resource string, diff map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
