package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
	"github.com/alanyoungcy/traderd/internal/notify"
)

// Broadcaster pushes events to connected websocket clients.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Reconciler compares internal position state against the broker. The breach
// monitor uses it to detect drift.
type Reconciler interface {
	Reconcile(ctx context.Context) (domain.ReconciliationReport, error)
}

// KillSwitchConfig holds the kill switch's mode and monitor cadences.
type KillSwitchConfig struct {
	DefaultMode       domain.KillSwitchMode
	ServiceName       string
	HeartbeatInterval time.Duration
	DeadmanTimeout    time.Duration
	DeadmanInterval   time.Duration
	BreachInterval    time.Duration
	RiskDefaults      domain.RiskLimits
}

// KillSwitch manages the singleton armed/triggered trading gate. Triggering
// flips state and appends one event atomically; hard mode additionally
// cancels all open orders and flattens all positions at the broker. The
// switch keeps an in-memory copy of the last known status so the order
// router's gate still works when the store read fails.
type KillSwitch struct {
	store       domain.KillSwitchStore
	riskStore   domain.RiskStore
	audit       domain.AuditStore
	broker      broker.Broker // optional
	reconciler  Reconciler    // optional
	notifier    *notify.Notifier
	broadcaster Broadcaster // optional
	cfg         KillSwitchConfig
	logger      *slog.Logger

	mu        sync.RWMutex
	lastKnown domain.KillSwitchStatus
}

// NewKillSwitch creates a KillSwitch service.
func NewKillSwitch(
	store domain.KillSwitchStore,
	riskStore domain.RiskStore,
	audit domain.AuditStore,
	brk broker.Broker,
	notifier *notify.Notifier,
	cfg KillSwitchConfig,
	logger *slog.Logger,
) *KillSwitch {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = domain.KillSwitchSoft
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "traderd"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.DeadmanTimeout <= 0 {
		cfg.DeadmanTimeout = 30 * time.Second
	}
	if cfg.DeadmanInterval <= 0 {
		cfg.DeadmanInterval = 15 * time.Second
	}
	if cfg.BreachInterval <= 0 {
		cfg.BreachInterval = 30 * time.Second
	}

	return &KillSwitch{
		store:     store,
		riskStore: riskStore,
		audit:     audit,
		broker:    brk,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "kill_switch")),
		lastKnown: domain.KillSwitchArmed,
	}
}

// SetReconciler wires the position reconciler into the breach monitor. Set
// after construction to avoid a dependency cycle with the position manager.
func (ks *KillSwitch) SetReconciler(r Reconciler) { ks.reconciler = r }

// SetBroadcaster wires the websocket hub.
func (ks *KillSwitch) SetBroadcaster(b Broadcaster) { ks.broadcaster = b }

// Status reads the persisted state.
func (ks *KillSwitch) Status(ctx context.Context) (domain.KillSwitchState, error) {
	st, err := ks.store.State(ctx)
	if err != nil {
		return domain.KillSwitchState{}, err
	}

	ks.mu.Lock()
	ks.lastKnown = st.Status
	ks.mu.Unlock()
	return st, nil
}

// IsTriggered reports whether trading should stop. When the store is
// unreachable it falls back to the last known in-memory status rather than
// failing open or closed blindly.
func (ks *KillSwitch) IsTriggered(ctx context.Context) bool {
	st, err := ks.store.State(ctx)
	if err != nil {
		ks.mu.RLock()
		last := ks.lastKnown
		ks.mu.RUnlock()
		ks.logger.WarnContext(ctx, "kill switch state unreadable, using last known",
			slog.String("last_known", string(last)),
			slog.Any("error", err),
		)
		return last == domain.KillSwitchTriggered
	}

	ks.mu.Lock()
	ks.lastKnown = st.Status
	ks.mu.Unlock()
	return st.Status == domain.KillSwitchTriggered
}

// TriggerManual trips the switch on operator request.
func (ks *KillSwitch) TriggerManual(ctx context.Context, mode domain.KillSwitchMode, reason, actor string) error {
	if mode == "" {
		mode = ks.cfg.DefaultMode
	}
	return ks.trigger(ctx, domain.KillSwitchEvent{
		Trigger: domain.TriggerManual,
		Mode:    mode,
		Reason:  reason,
		Actor:   actor,
	})
}

// TriggerBreach trips the switch from the breach monitor using the default mode.
func (ks *KillSwitch) TriggerBreach(ctx context.Context, reason string) error {
	return ks.trigger(ctx, domain.KillSwitchEvent{
		Trigger: domain.TriggerBreach,
		Mode:    ks.cfg.DefaultMode,
		Reason:  reason,
		Actor:   "system",
	})
}

// TriggerDeadman trips the switch when the heartbeat goes stale.
func (ks *KillSwitch) TriggerDeadman(ctx context.Context) error {
	return ks.trigger(ctx, domain.KillSwitchEvent{
		Trigger: domain.TriggerHeartbeatMiss,
		Mode:    ks.cfg.DefaultMode,
		Reason:  fmt.Sprintf("no heartbeat within %s", ks.cfg.DeadmanTimeout),
		Actor:   "system",
	})
}

// trigger flips the state and appends the event in one transaction. In hard
// mode the broker-wide cancel and flatten run inside that transaction and
// their outcomes are recorded on the event; a broker failure does not abort
// the state flip.
func (ks *KillSwitch) trigger(ctx context.Context, event domain.KillSwitchEvent) error {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now().UTC()

	var actions func(ctx context.Context) map[string]any
	if event.Mode == domain.KillSwitchHard {
		actions = func(ctx context.Context) map[string]any {
			return ks.executeHardActions(ctx)
		}
	}

	if err := ks.store.Trigger(ctx, event, actions); err != nil {
		return fmt.Errorf("kill_switch: trigger: %w", err)
	}

	ks.mu.Lock()
	ks.lastKnown = domain.KillSwitchTriggered
	ks.mu.Unlock()

	ks.logger.ErrorContext(ctx, "kill switch triggered",
		slog.String("trigger", string(event.Trigger)),
		slog.String("mode", string(event.Mode)),
		slog.String("reason", event.Reason),
		slog.String("actor", event.Actor),
	)

	if err := ks.audit.Log(ctx, event.Actor, "killswitch.trigger", "killswitch",
		map[string]any{"trigger": string(event.Trigger), "mode": string(event.Mode), "reason": event.Reason},
	); err != nil {
		ks.logger.WarnContext(ctx, "failed to audit kill switch trigger", slog.Any("error", err))
	}

	if ks.notifier != nil {
		title := fmt.Sprintf("KILL SWITCH TRIGGERED (%s)", event.Mode)
		msg := fmt.Sprintf("Trigger: %s\nReason: %s\nActor: %s", event.Trigger, event.Reason, event.Actor)
		if err := ks.notifier.Notify(ctx, "kill_switch_triggered", title, msg); err != nil {
			ks.logger.WarnContext(ctx, "kill switch notification failed", slog.Any("error", err))
		}
	}
	if ks.broadcaster != nil {
		ks.broadcaster.Broadcast("kill_switch_triggered", event)
	}

	return nil
}

// executeHardActions cancels all open orders and flattens all positions,
// recording each outcome for the event log.
func (ks *KillSwitch) executeHardActions(ctx context.Context) map[string]any {
	outcomes := make(map[string]any, 2)

	if ks.broker == nil {
		outcomes["cancel_all_orders"] = "skipped: no broker"
		outcomes["close_all_positions"] = "skipped: no broker"
		return outcomes
	}

	if err := ks.broker.CancelAllOrders(ctx); err != nil {
		ks.logger.ErrorContext(ctx, "hard kill: cancel all orders failed", slog.Any("error", err))
		outcomes["cancel_all_orders"] = "failed: " + err.Error()
	} else {
		outcomes["cancel_all_orders"] = "ok"
	}

	if err := ks.broker.CloseAllPositions(ctx); err != nil {
		ks.logger.ErrorContext(ctx, "hard kill: close all positions failed", slog.Any("error", err))
		outcomes["close_all_positions"] = "failed: " + err.Error()
	} else {
		outcomes["close_all_positions"] = "ok"
	}

	return outcomes
}

// Reset re-arms the switch unconditionally. The reset appears in the audit
// log, not in the kill switch event log.
func (ks *KillSwitch) Reset(ctx context.Context, actor string) error {
	if err := ks.store.Reset(ctx, actor); err != nil {
		return fmt.Errorf("kill_switch: reset: %w", err)
	}

	ks.mu.Lock()
	ks.lastKnown = domain.KillSwitchArmed
	ks.mu.Unlock()

	ks.logger.WarnContext(ctx, "kill switch reset", slog.String("actor", actor))

	if err := ks.audit.Log(ctx, actor, "killswitch.reset", "killswitch", nil); err != nil {
		ks.logger.WarnContext(ctx, "failed to audit kill switch reset", slog.Any("error", err))
	}
	if ks.broadcaster != nil {
		ks.broadcaster.Broadcast("kill_switch_reset", map[string]any{"actor": actor})
	}
	return nil
}

// Events returns recent kill switch events, newest first.
func (ks *KillSwitch) Events(ctx context.Context, limit int) ([]domain.KillSwitchEvent, error) {
	return ks.store.Events(ctx, limit)
}

// RunHeartbeat writes a liveness timestamp until ctx is cancelled.
func (ks *KillSwitch) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(ks.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ks.store.Heartbeat(ctx, ks.cfg.ServiceName); err != nil {
				ks.logger.WarnContext(ctx, "heartbeat write failed", slog.Any("error", err))
			}
		}
	}
}

// RunDeadman watches the heartbeat and trips the switch when it goes stale.
func (ks *KillSwitch) RunDeadman(ctx context.Context) error {
	ticker := time.NewTicker(ks.cfg.DeadmanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ks.checkDeadman(ctx)
		}
	}
}

func (ks *KillSwitch) checkDeadman(ctx context.Context) {
	last, err := ks.store.LastHeartbeat(ctx, ks.cfg.ServiceName)
	if err != nil {
		// No heartbeat row yet, or the store is down. The deadman cannot
		// distinguish the two, so it waits for a real observation.
		return
	}

	if age := time.Since(last); age > ks.cfg.DeadmanTimeout {
		if ks.IsTriggered(ctx) {
			return
		}
		ks.logger.ErrorContext(ctx, "heartbeat stale, tripping deadman",
			slog.Duration("age", age),
			slog.Duration("timeout", ks.cfg.DeadmanTimeout),
		)
		if err := ks.TriggerDeadman(ctx); err != nil {
			ks.logger.ErrorContext(ctx, "deadman trigger failed", slog.Any("error", err))
		}
	}
}

// RunBreachMonitor scans for risk breaches until ctx is cancelled.
func (ks *KillSwitch) RunBreachMonitor(ctx context.Context) error {
	ticker := time.NewTicker(ks.cfg.BreachInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ks.scanBreaches(ctx)
		}
	}
}

func (ks *KillSwitch) scanBreaches(ctx context.Context) {
	// Keep the daily rollup current while we are here.
	if roller, ok := ks.riskStore.(interface{ RollupToday(context.Context) error }); ok {
		if err := roller.RollupToday(ctx); err != nil {
			ks.logger.WarnContext(ctx, "pnl rollup failed", slog.Any("error", err))
		}
	}

	if ks.IsTriggered(ctx) {
		return
	}

	limits, err := ks.riskStore.Limits(ctx, ks.cfg.RiskDefaults)
	if err != nil {
		limits = ks.cfg.RiskDefaults
	}

	pnl, err := ks.riskStore.TodayPnL(ctx)
	if err != nil {
		ks.logger.WarnContext(ctx, "breach monitor: pnl unreadable", slog.Any("error", err))
	} else if pnl.NetPnL <= -limits.MaxDailyLoss {
		reason := fmt.Sprintf("daily loss breach: net P&L $%.2f <= -$%.2f", pnl.NetPnL, limits.MaxDailyLoss)
		if err := ks.TriggerBreach(ctx, reason); err != nil {
			ks.logger.ErrorContext(ctx, "breach trigger failed", slog.Any("error", err))
		}
		return
	}

	if ks.reconciler != nil {
		report, err := ks.reconciler.Reconcile(ctx)
		if err != nil {
			ks.logger.WarnContext(ctx, "breach monitor: reconciliation failed", slog.Any("error", err))
			return
		}
		if !report.Matched {
			reason := fmt.Sprintf("position reconciliation mismatch: %d symbol(s) drifted", len(report.Mismatches))
			if ks.notifier != nil {
				if err := ks.notifier.Notify(ctx, "risk_breach", "Position drift detected", reason); err != nil {
					ks.logger.WarnContext(ctx, "breach notification failed", slog.Any("error", err))
				}
			}
			if err := ks.TriggerBreach(ctx, reason); err != nil {
				ks.logger.ErrorContext(ctx, "breach trigger failed", slog.Any("error", err))
			}
		}
	}
}
