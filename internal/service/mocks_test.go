package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxDailyLoss:        500,
		MaxPositionUsd:      2000,
		MaxGrossExposureUsd: 10000,
		MaxTradesPerDay:     10,
		MaxOrderSlippageBps: 50,
	}
}

// fakeRiskStore implements domain.RiskStore with overridable hooks. The zero
// value passes everything: limits come back as given, the whitelist allows
// any symbol, and today's P&L is flat.
type fakeRiskStore struct {
	limitsFn         func(ctx context.Context, defaults domain.RiskLimits) (domain.RiskLimits, error)
	whitelistFn      func(ctx context.Context, symbol string) (domain.WhitelistEntry, error)
	lastModeSwitchFn func(ctx context.Context) (domain.ModeSwitch, error)
	todayPnLFn       func(ctx context.Context) (domain.DailyPnL, error)

	mu            sync.Mutex
	todayPnLCalls int
	logged        []domain.RiskCheckResult
	modeSwitches  []domain.ModeSwitch
}

func (s *fakeRiskStore) Limits(ctx context.Context, defaults domain.RiskLimits) (domain.RiskLimits, error) {
	if s.limitsFn != nil {
		return s.limitsFn(ctx, defaults)
	}
	return defaults, nil
}

func (s *fakeRiskStore) LogCheck(_ context.Context, _ string, res domain.RiskCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logged = append(s.logged, res)
	return nil
}

func (s *fakeRiskStore) WhitelistEntry(ctx context.Context, symbol string) (domain.WhitelistEntry, error) {
	if s.whitelistFn != nil {
		return s.whitelistFn(ctx, symbol)
	}
	return domain.WhitelistEntry{Symbol: symbol, Enabled: true}, nil
}

func (s *fakeRiskStore) LastModeSwitch(ctx context.Context) (domain.ModeSwitch, error) {
	if s.lastModeSwitchFn != nil {
		return s.lastModeSwitchFn(ctx)
	}
	return domain.ModeSwitch{}, domain.ErrNotFound
}

func (s *fakeRiskStore) RecordModeSwitch(_ context.Context, sw domain.ModeSwitch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modeSwitches = append(s.modeSwitches, sw)
	return nil
}

func (s *fakeRiskStore) TodayPnL(ctx context.Context) (domain.DailyPnL, error) {
	s.mu.Lock()
	s.todayPnLCalls++
	s.mu.Unlock()
	if s.todayPnLFn != nil {
		return s.todayPnLFn(ctx)
	}
	return domain.DailyPnL{}, nil
}

func (s *fakeRiskStore) ListBreaches(context.Context, int) ([]domain.RiskBreach, error) {
	return nil, nil
}

func (s *fakeRiskStore) pnlCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todayPnLCalls
}

// fakePositionStore is an in-memory domain.PositionStore keyed on symbol,
// keeping only the latest snapshot plus an append log.
type fakePositionStore struct {
	latestFn    func(ctx context.Context, symbol string) (domain.PositionSnapshot, error)
	latestAllFn func(ctx context.Context) ([]domain.PositionSnapshot, error)

	mu       sync.Mutex
	latest   map[string]domain.PositionSnapshot
	appended []domain.PositionSnapshot
}

func (s *fakePositionStore) Latest(ctx context.Context, symbol string) (domain.PositionSnapshot, error) {
	if s.latestFn != nil {
		return s.latestFn(ctx, symbol)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.latest[symbol]
	if !ok {
		return domain.PositionSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *fakePositionStore) LatestAll(ctx context.Context) ([]domain.PositionSnapshot, error) {
	if s.latestAllFn != nil {
		return s.latestAllFn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]domain.PositionSnapshot, 0, len(s.latest))
	for _, snap := range s.latest {
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *fakePositionStore) History(context.Context, string, int) ([]domain.PositionSnapshot, error) {
	return nil, nil
}

func (s *fakePositionStore) Append(_ context.Context, snap domain.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		s.latest = make(map[string]domain.PositionSnapshot)
	}
	s.latest[snap.Symbol] = snap
	s.appended = append(s.appended, snap)
	return nil
}

func (s *fakePositionStore) seed(snaps ...domain.PositionSnapshot) *fakePositionStore {
	if s.latest == nil {
		s.latest = make(map[string]domain.PositionSnapshot)
	}
	for _, snap := range snaps {
		s.latest[snap.Symbol] = snap
	}
	return s
}

// fakeQuoteCache is an in-memory domain.QuoteCache.
type fakeQuoteCache struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
}

func (c *fakeQuoteCache) SetQuote(_ context.Context, symbol string, q domain.Quote, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quotes == nil {
		c.quotes = make(map[string]domain.Quote)
	}
	c.quotes[symbol] = q
	return nil
}

func (c *fakeQuoteCache) GetQuote(_ context.Context, symbol string) (domain.Quote, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[symbol]
	if !ok {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	return q, time.Now(), nil
}

// fakeBroker implements broker.Broker with overridable hooks. The zero value
// is a connected venue that accepts every order and knows no prices.
type fakeBroker struct {
	submitFn       func(ctx context.Context, req broker.OrderRequest) (domain.BrokerOrder, error)
	getOrderFn     func(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error)
	getQuoteFn     func(ctx context.Context, symbol string) (domain.Quote, error)
	getAccountFn   func(ctx context.Context) (domain.Account, error)
	getPositionsFn func(ctx context.Context) ([]domain.BrokerPosition, error)
	cancelAllFn    func(ctx context.Context) error
	closeAllFn     func(ctx context.Context) error

	mu         sync.Mutex
	submits    []broker.OrderRequest
	cancels    []string
	cancelAlls int
	closeAlls  int
}

func (b *fakeBroker) Connect(context.Context) error    { return nil }
func (b *fakeBroker) Disconnect(context.Context) error { return nil }
func (b *fakeBroker) IsConnected() bool                { return true }

func (b *fakeBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	if b.getAccountFn != nil {
		return b.getAccountFn(ctx)
	}
	return domain.Account{}, nil
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (domain.BrokerOrder, error) {
	b.mu.Lock()
	b.submits = append(b.submits, req)
	b.mu.Unlock()
	if b.submitFn != nil {
		return b.submitFn(ctx, req)
	}
	return domain.BrokerOrder{
		ID:            "bo-" + req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Qty,
		Status:        domain.OrderStatusAccepted,
	}, nil
}

func (b *fakeBroker) GetOrder(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error) {
	if b.getOrderFn != nil {
		return b.getOrderFn(ctx, brokerOrderID)
	}
	return domain.BrokerOrder{}, domain.ErrNotFound
}

func (b *fakeBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, brokerOrderID)
	return nil
}

func (b *fakeBroker) GetOpenOrders(context.Context) ([]domain.BrokerOrder, error) { return nil, nil }

func (b *fakeBroker) CancelAllOrders(ctx context.Context) error {
	b.mu.Lock()
	b.cancelAlls++
	b.mu.Unlock()
	if b.cancelAllFn != nil {
		return b.cancelAllFn(ctx)
	}
	return nil
}

func (b *fakeBroker) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	if b.getPositionsFn != nil {
		return b.getPositionsFn(ctx)
	}
	return nil, nil
}

func (b *fakeBroker) GetPosition(context.Context, string) (*domain.BrokerPosition, error) {
	return nil, nil
}

func (b *fakeBroker) ClosePosition(context.Context, string) (domain.BrokerOrder, error) {
	return domain.BrokerOrder{}, nil
}

func (b *fakeBroker) CloseAllPositions(ctx context.Context) error {
	b.mu.Lock()
	b.closeAlls++
	b.mu.Unlock()
	if b.closeAllFn != nil {
		return b.closeAllFn(ctx)
	}
	return nil
}

func (b *fakeBroker) GetLastPrice(context.Context, string) (float64, error) {
	return 0, errors.New("no price")
}

func (b *fakeBroker) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if b.getQuoteFn != nil {
		return b.getQuoteFn(ctx, symbol)
	}
	return domain.Quote{}, errors.New("no quote")
}

func (b *fakeBroker) GetBars(context.Context, string, domain.BarParams) ([]domain.Bar, error) {
	return nil, nil
}

func (b *fakeBroker) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submits)
}

// fakeOrderStore implements domain.OrderStore, recording submissions.
type fakeOrderStore struct {
	recordFn        func(ctx context.Context, intent domain.OrderIntent, order domain.Order, auditDiff map[string]any) error
	markCancelledFn func(ctx context.Context, brokerOrderID, actor string) error

	mu        sync.Mutex
	submitted []domain.Order
	cancelled []string
}

func (s *fakeOrderStore) RecordSubmission(ctx context.Context, intent domain.OrderIntent, order domain.Order, auditDiff map[string]any) error {
	if s.recordFn != nil {
		if err := s.recordFn(ctx, intent, order, auditDiff); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, order)
	return nil
}

func (s *fakeOrderStore) MarkCancelled(ctx context.Context, brokerOrderID, actor string) error {
	if s.markCancelledFn != nil {
		return s.markCancelledFn(ctx, brokerOrderID, actor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, brokerOrderID)
	return nil
}

func (s *fakeOrderStore) GetByBrokerID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (s *fakeOrderStore) ListOpen(context.Context) ([]domain.Order, error) { return nil, nil }

func (s *fakeOrderStore) List(context.Context, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

// fakeFillLedger drives the fill callback with a scripted order and local
// filled quantity, capturing every update the callback returns.
type fakeFillLedger struct {
	order    domain.Order
	localQty float64

	mu      sync.Mutex
	updates []*domain.FillUpdate
}

func (l *fakeFillLedger) ProcessWithLock(ctx context.Context, _ string, fn func(ctx context.Context, order domain.Order, localFilledQty float64) (*domain.FillUpdate, error)) error {
	update, err := fn(ctx, l.order, l.localQty)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, update)
	if update.Fill != nil {
		l.localQty += update.Fill.Qty
	}
	return nil
}

func (l *fakeFillLedger) ListByOrder(context.Context, string) ([]domain.Fill, error) {
	return nil, nil
}

// memKillSwitchStore is an in-memory domain.KillSwitchStore.
type memKillSwitchStore struct {
	stateErr error

	mu         sync.Mutex
	state      domain.KillSwitchState
	events     []domain.KillSwitchEvent
	heartbeats map[string]time.Time
}

func newMemKillSwitchStore() *memKillSwitchStore {
	return &memKillSwitchStore{
		state:      domain.KillSwitchState{Status: domain.KillSwitchArmed},
		heartbeats: make(map[string]time.Time),
	}
}

func (s *memKillSwitchStore) State(context.Context) (domain.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateErr != nil {
		return domain.KillSwitchState{}, s.stateErr
	}
	return s.state, nil
}

func (s *memKillSwitchStore) Trigger(ctx context.Context, event domain.KillSwitchEvent, actions func(ctx context.Context) map[string]any) error {
	s.mu.Lock()
	s.state = domain.KillSwitchState{Status: domain.KillSwitchTriggered, UpdatedBy: event.Actor, UpdatedAt: event.Timestamp}
	s.mu.Unlock()

	if actions != nil {
		event.Detail = actions(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memKillSwitchStore) Reset(_ context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = domain.KillSwitchState{Status: domain.KillSwitchArmed, UpdatedBy: actor, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *memKillSwitchStore) Events(_ context.Context, limit int) ([]domain.KillSwitchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]domain.KillSwitchEvent, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0 && (limit <= 0 || len(events) < limit); i-- {
		events = append(events, s.events[i])
	}
	return events, nil
}

func (s *memKillSwitchStore) Heartbeat(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[service] = time.Now().UTC()
	return nil
}

func (s *memKillSwitchStore) LastHeartbeat(_ context.Context, service string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.heartbeats[service]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	return ts, nil
}

func (s *memKillSwitchStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// fakeAuditStore records audit entries.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *fakeAuditStore) Log(_ context.Context, actor, action, resource string, diff map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{Actor: actor, Action: action, Resource: resource, Diff: diff})
	return nil
}

func (s *fakeAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries, nil
}

// fakeRateLimiter allows or denies everything.
type fakeRateLimiter struct {
	allowed bool
	err     error
}

func (l *fakeRateLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allowed, l.err
}

// fakeLockManager hands out no-op unlocks, or refuses when held is set.
type fakeLockManager struct {
	held bool

	mu       sync.Mutex
	acquired []string
}

func (m *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if m.held {
		return nil, domain.ErrLockHeld
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired = append(m.acquired, key)
	return func() {}, nil
}
