package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends a new audit entry. The diff map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, actor, action, resource string, diff map[string]any) error {
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit diff: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trd_audit_log (actor, action, resource, diff) VALUES ($1, $2, $3, $4)`,
		actor, action, resource, diffJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit %s: %w", action, err)
	}
	return nil
}

// List returns audit entries newest first with pagination.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, actor, action, resource, diff, created_at FROM trd_audit_log ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var diffJSON []byte

		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Resource, &diffJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if diffJSON != nil {
			if err := json.Unmarshal(diffJSON, &e.Diff); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit diff: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}
