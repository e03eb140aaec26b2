package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rejestr/bulkio/internal/core"
)

func (s *Store) CreateMutation(ctx context.Context, m *core.BulkMutation) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	operationJSON, err := json.Marshal(m.Operation)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	var snapshotsJSON []byte
	if m.Snapshots != nil {
		if snapshotsJSON, err = json.Marshal(m.Snapshots); err != nil {
			return fmt.Errorf("marshal snapshots: %w", err)
		}
	}
	var errorsJSON []byte
	if len(m.Errors) > 0 {
		if errorsJSON, err = json.Marshal(m.Errors); err != nil {
			return fmt.Errorf("marshal errors: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO bulk_mutations (id, tenant_id, actor, operation, target_ids, snapshots,
			successful, failed, errors, reversible, reversed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11)
	`, m.ID, m.TenantID, m.Actor, operationJSON, m.TargetIDs, snapshotsJSON,
		m.Successful, m.Failed, errorsJSON, m.Reversible, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}
	return nil
}

func (s *Store) GetMutation(ctx context.Context, tenantID, id string) (*core.BulkMutation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, actor, operation, target_ids, snapshots, successful, failed,
			errors, reversible, reversed_at, reversed_by, created_at
		FROM bulk_mutations WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)

	var m core.BulkMutation
	var operationJSON, snapshotsJSON, errorsJSON []byte
	err := row.Scan(&m.ID, &m.TenantID, &m.Actor, &operationJSON, &m.TargetIDs, &snapshotsJSON,
		&m.Successful, &m.Failed, &errorsJSON, &m.Reversible, &m.ReversedAt, &m.ReversedBy,
		&m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mutation: %w", err)
	}
	if err := json.Unmarshal(operationJSON, &m.Operation); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	if len(snapshotsJSON) > 0 {
		if err := json.Unmarshal(snapshotsJSON, &m.Snapshots); err != nil {
			return nil, fmt.Errorf("unmarshal snapshots: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &m.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return &m, nil
}

// MarkReversed claims the reversal. The WHERE clause makes concurrent
// attempts race on the row update, so exactly one caller wins.
func (s *Store) MarkReversed(ctx context.Context, tenantID, id, actor string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bulk_mutations SET reversed_at = $4, reversed_by = $3
		WHERE id = $1 AND tenant_id = $2 AND reversible AND reversed_at IS NULL
	`, id, tenantID, actor, at)
	if err != nil {
		return fmt.Errorf("mark reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM bulk_mutations WHERE id = $1 AND tenant_id = $2)
		`, id, tenantID).Scan(&exists); err != nil {
			return fmt.Errorf("check mutation: %w", err)
		}
		if !exists {
			return fmt.Errorf("mutation %s: %w", id, core.ErrNotFound)
		}
		return fmt.Errorf("mutation %s: %w", id, core.ErrReversal)
	}
	return nil
}
