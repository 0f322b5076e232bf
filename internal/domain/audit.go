package domain

import "time"

// AuditEntry is a single append-only audit log row. Every state-changing
// operation (order submit/cancel, fill recorded, kill-switch trigger/reset)
// writes one entry.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Diff      map[string]any `json:"diff,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Role scopes what an authenticated caller may do.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// CanMutate reports whether the role may perform state-changing operations.
func (r Role) CanMutate() bool {
	return r == RoleAdmin || r == RoleOperator
}

// Identity is the resolved caller identity attached to each request by the
// auth middleware; the core uses it only for audit attribution.
type Identity struct {
	Actor string `json:"actor"`
	Role  Role   `json:"role"`
}
