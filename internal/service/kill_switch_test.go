package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/traderd/internal/domain"
)

func newTestKillSwitch(store *memKillSwitchStore, brk *fakeBroker) (*KillSwitch, *fakeAuditStore) {
	audit := &fakeAuditStore{}
	var ks *KillSwitch
	if brk != nil {
		ks = NewKillSwitch(store, &fakeRiskStore{}, audit, brk, nil, KillSwitchConfig{}, testLogger())
	} else {
		ks = NewKillSwitch(store, &fakeRiskStore{}, audit, nil, nil, KillSwitchConfig{}, testLogger())
	}
	return ks, audit
}

func TestKillSwitchTriggerLifecycle(t *testing.T) {
	store := newMemKillSwitchStore()
	ks, audit := newTestKillSwitch(store, nil)
	ctx := context.Background()

	assert.False(t, ks.IsTriggered(ctx))

	require.NoError(t, ks.TriggerManual(ctx, domain.KillSwitchSoft, "fat finger", "ops"))
	assert.True(t, ks.IsTriggered(ctx))

	st, err := ks.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.KillSwitchTriggered, st.Status)

	events, err := ks.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TriggerManual, events[0].Trigger)
	assert.Equal(t, domain.KillSwitchSoft, events[0].Mode)
	assert.Equal(t, "fat finger", events[0].Reason)
	assert.Equal(t, "ops", events[0].Actor)
	assert.NotEmpty(t, events[0].EventID)

	require.NoError(t, ks.Reset(ctx, "ops"))
	assert.False(t, ks.IsTriggered(ctx))

	require.Len(t, audit.entries, 2)
	assert.Equal(t, "killswitch.trigger", audit.entries[0].Action)
	assert.Equal(t, "killswitch.reset", audit.entries[1].Action)
}

func TestKillSwitchTriggerAlwaysAppendsEvent(t *testing.T) {
	store := newMemKillSwitchStore()
	ks, _ := newTestKillSwitch(store, nil)
	ctx := context.Background()

	require.NoError(t, ks.TriggerManual(ctx, domain.KillSwitchSoft, "first", "ops"))
	require.NoError(t, ks.TriggerBreach(ctx, "second"))

	// Triggering an already-triggered switch still appends.
	assert.Equal(t, 2, store.eventCount())
}

func TestKillSwitchDefaultModeApplied(t *testing.T) {
	store := newMemKillSwitchStore()
	audit := &fakeAuditStore{}
	ks := NewKillSwitch(store, &fakeRiskStore{}, audit, nil, nil, KillSwitchConfig{
		DefaultMode: domain.KillSwitchHard,
	}, testLogger())
	ctx := context.Background()

	// Empty mode falls back to the configured default.
	require.NoError(t, ks.TriggerManual(ctx, "", "drill", "ops"))

	events, err := ks.Events(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.KillSwitchHard, events[0].Mode)
}

func TestKillSwitchHardModeActions(t *testing.T) {
	store := newMemKillSwitchStore()
	brk := &fakeBroker{
		cancelAllFn: func(context.Context) error { return errors.New("alpaca: 503") },
	}
	ks, _ := newTestKillSwitch(store, brk)
	ctx := context.Background()

	require.NoError(t, ks.TriggerManual(ctx, domain.KillSwitchHard, "drift", "ops"))

	assert.Equal(t, 1, brk.cancelAlls)
	assert.Equal(t, 1, brk.closeAlls)

	events, err := ks.Events(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Detail)
	assert.Contains(t, events[0].Detail["cancel_all_orders"], "failed")
	assert.Equal(t, "ok", events[0].Detail["close_all_positions"])

	// A broker failure never aborts the state flip.
	assert.True(t, ks.IsTriggered(ctx))
}

func TestKillSwitchHardModeWithoutBroker(t *testing.T) {
	store := newMemKillSwitchStore()
	ks, _ := newTestKillSwitch(store, nil)
	ctx := context.Background()

	require.NoError(t, ks.TriggerManual(ctx, domain.KillSwitchHard, "drill", "ops"))

	events, err := ks.Events(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "skipped: no broker", events[0].Detail["cancel_all_orders"])
}

func TestIsTriggeredFallsBackToLastKnown(t *testing.T) {
	store := newMemKillSwitchStore()
	ks, _ := newTestKillSwitch(store, nil)
	ctx := context.Background()

	require.NoError(t, ks.TriggerManual(ctx, domain.KillSwitchSoft, "outage drill", "ops"))
	require.True(t, ks.IsTriggered(ctx))

	// Store goes dark: the gate keeps the last observed state.
	store.mu.Lock()
	store.stateErr = errors.New("pg down")
	store.mu.Unlock()
	assert.True(t, ks.IsTriggered(ctx))

	store.mu.Lock()
	store.stateErr = nil
	store.mu.Unlock()
	require.NoError(t, ks.Reset(ctx, "ops"))
	require.False(t, ks.IsTriggered(ctx))

	store.mu.Lock()
	store.stateErr = errors.New("pg down")
	store.mu.Unlock()
	assert.False(t, ks.IsTriggered(ctx))
}
