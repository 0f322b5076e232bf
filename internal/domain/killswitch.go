package domain

import "time"

// KillSwitchStatus is the singleton armed/triggered state.
type KillSwitchStatus string

const (
	KillSwitchArmed     KillSwitchStatus = "armed"
	KillSwitchTriggered KillSwitchStatus = "triggered"
)

// KillSwitchTrigger identifies what caused a trigger.
type KillSwitchTrigger string

const (
	TriggerManual        KillSwitchTrigger = "manual"
	TriggerBreach        KillSwitchTrigger = "breach"
	TriggerHeartbeatMiss KillSwitchTrigger = "heartbeat_miss"
)

// KillSwitchMode selects how aggressively a trigger acts. Soft blocks new
// order submission only; hard additionally cancels all open orders and
// flattens all positions at the broker.
type KillSwitchMode string

const (
	KillSwitchSoft KillSwitchMode = "soft"
	KillSwitchHard KillSwitchMode = "hard"
)

// KillSwitchState is the singleton state row.
type KillSwitchState struct {
	Status    KillSwitchStatus `json:"status"`
	UpdatedBy string           `json:"updatedBy"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// KillSwitchEvent is one append-only log entry. Events are never deduplicated:
// triggering an already-triggered switch still appends a new event.
type KillSwitchEvent struct {
	EventID   string            `json:"eventId"`
	Trigger   KillSwitchTrigger `json:"trigger"`
	Mode      KillSwitchMode    `json:"mode"`
	Reason    string            `json:"reason"`
	Actor     string            `json:"actor"`
	Detail    map[string]any    `json:"detail,omitempty"` // hard-mode action outcomes
	Timestamp time.Time         `json:"timestamp"`
}
