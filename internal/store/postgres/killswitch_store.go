package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// KillSwitchStore implements domain.KillSwitchStore using PostgreSQL. The
// state lives in a singleton row (id = 1) seeded armed by the migrations.
type KillSwitchStore struct {
	pool *pgxpool.Pool
}

// NewKillSwitchStore creates a new KillSwitchStore backed by the given connection pool.
func NewKillSwitchStore(pool *pgxpool.Pool) *KillSwitchStore {
	return &KillSwitchStore{pool: pool}
}

// State reads the singleton state row.
func (s *KillSwitchStore) State(ctx context.Context) (domain.KillSwitchState, error) {
	var st domain.KillSwitchState
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT status, updated_by, updated_at FROM trd_kill_switch_state WHERE id = 1`,
	).Scan(&status, &st.UpdatedBy, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.KillSwitchState{}, domain.ErrNotInitialized
		}
		return domain.KillSwitchState{}, fmt.Errorf("postgres: kill switch state: %w", err)
	}

	st.Status = domain.KillSwitchStatus(status)
	return st, nil
}

// Trigger flips the state to triggered and appends the event in one
// transaction. The event is appended even when the switch is already
// triggered. When actions is non-nil it runs inside the transaction after the
// state flip and its returned detail is merged onto the event before insert.
func (s *KillSwitchStore) Trigger(ctx context.Context, event domain.KillSwitchEvent, actions func(ctx context.Context) map[string]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin trigger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE trd_kill_switch_state
		   SET status = 'triggered', updated_by = $1, updated_at = NOW()
		 WHERE id = 1`, event.Actor)
	if err != nil {
		return fmt.Errorf("postgres: flip kill switch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInitialized
	}

	detail := event.Detail
	if actions != nil {
		outcomes := actions(ctx)
		if len(outcomes) > 0 {
			if detail == nil {
				detail = make(map[string]any, len(outcomes))
			}
			for k, v := range outcomes {
				detail[k] = v
			}
		}
	}

	var detailJSON []byte
	if detail != nil {
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal kill switch detail: %w", err)
		}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO trd_kill_switch_event (event_id, trigger_source, mode, reason, actor, detail, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.EventID, string(event.Trigger), string(event.Mode),
		event.Reason, event.Actor, detailJSON, event.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: insert kill switch event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trigger tx: %w", err)
	}
	return nil
}

// Reset re-arms the switch unconditionally and records who did it.
func (s *KillSwitchStore) Reset(ctx context.Context, actor string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trd_kill_switch_state
		   SET status = 'armed', updated_by = $1, updated_at = NOW()
		 WHERE id = 1`, actor)
	if err != nil {
		return fmt.Errorf("postgres: reset kill switch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInitialized
	}
	return nil
}

// Events returns recent kill switch events, newest first.
func (s *KillSwitchStore) Events(ctx context.Context, limit int) ([]domain.KillSwitchEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT event_id, trigger_source, mode, reason, actor, detail, ts
		  FROM trd_kill_switch_event
		 ORDER BY ts DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list kill switch events: %w", err)
	}
	defer rows.Close()

	var events []domain.KillSwitchEvent
	for rows.Next() {
		var e domain.KillSwitchEvent
		var trigger, mode string
		var detailJSON []byte

		if err := rows.Scan(&e.EventID, &trigger, &mode, &e.Reason, &e.Actor, &detailJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan kill switch event: %w", err)
		}
		e.Trigger = domain.KillSwitchTrigger(trigger)
		e.Mode = domain.KillSwitchMode(mode)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal kill switch detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list kill switch events rows: %w", err)
	}
	return events, nil
}

// Heartbeat upserts the service's last-seen timestamp.
func (s *KillSwitchStore) Heartbeat(ctx context.Context, service string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trd_heartbeat (service, last_seen)
		VALUES ($1, NOW())
		ON CONFLICT (service) DO UPDATE SET last_seen = NOW()`, service)
	if err != nil {
		return fmt.Errorf("postgres: heartbeat %s: %w", service, err)
	}
	return nil
}

// LastHeartbeat returns the service's last-seen timestamp.
func (s *KillSwitchStore) LastHeartbeat(ctx context.Context, service string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_seen FROM trd_heartbeat WHERE service = $1`, service,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("postgres: last heartbeat %s: %w", service, err)
	}
	return ts, nil
}
