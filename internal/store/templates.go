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

func (s *Store) CreateTemplate(ctx context.Context, t *core.MappingTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	columnsJSON, err := json.Marshal(t.Columns)
	if err != nil {
		return fmt.Errorf("marshal template columns: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mapping_templates (id, tenant_id, name, columns, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.TenantID, t.Name, columnsJSON, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, tenantID, id string) (*core.MappingTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, columns, created_at
		FROM mapping_templates WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)

	var t core.MappingTemplate
	var columnsJSON []byte
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &columnsJSON, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	if err := json.Unmarshal(columnsJSON, &t.Columns); err != nil {
		return nil, fmt.Errorf("unmarshal template columns: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTemplates(ctx context.Context, tenantID string) ([]core.MappingTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, columns, created_at
		FROM mapping_templates WHERE tenant_id = $1
		ORDER BY name ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []core.MappingTemplate
	for rows.Next() {
		var t core.MappingTemplate
		var columnsJSON []byte
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &columnsJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal(columnsJSON, &t.Columns); err != nil {
			return nil, fmt.Errorf("unmarshal template columns: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTemplate(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mapping_templates WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	return nil
}
