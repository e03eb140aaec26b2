package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rejestr/bulkio/internal/core"
)

const clientColumns = `id, tenant_id, name, tax_id, business_id, email, phone, street, city,
	postal_code, status, manager_id, tags, custom, version, created_at, updated_at, deleted_at`

// fieldColumns maps registry field names to their physical columns. Fields
// absent here live inside the custom JSONB document.
var fieldColumns = map[string]string{
	"name":       "name",
	"taxId":      "tax_id",
	"businessId": "business_id",
	"email":      "email",
	"phone":      "phone",
	"street":     "street",
	"city":       "city",
	"postalCode": "postal_code",
	"status":     "status",
	"managerId":  "manager_id",
}

func (s *Store) CreateClient(ctx context.Context, c *core.Client) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}

	customJSON, err := json.Marshal(customOrEmpty(c.Custom))
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO clients (id, tenant_id, name, tax_id, business_id, email, phone, street, city,
			postal_code, status, manager_id, tags, custom, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, c.ID, c.TenantID, c.Name, c.TaxID, c.BusinessID, c.Email, c.Phone, c.Street, c.City,
		c.PostalCode, string(c.Status), c.ManagerID, tags, customJSON, c.Version, c.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// UpdateClient writes the record if the caller still holds the current
// version, then bumps the version on the passed struct to match the row.
func (s *Store) UpdateClient(ctx context.Context, c *core.Client) error {
	customJSON, err := json.Marshal(customOrEmpty(c.Custom))
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE clients
		SET name = $4, tax_id = $5, business_id = $6, email = $7, phone = $8, street = $9,
			city = $10, postal_code = $11, status = $12, manager_id = $13, tags = $14,
			custom = $15, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND version = $3
	`, c.ID, c.TenantID, c.Version, c.Name, c.TaxID, c.BusinessID, c.Email, c.Phone, c.Street,
		c.City, c.PostalCode, string(c.Status), c.ManagerID, tags, customJSON)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1 AND tenant_id = $2)
		`, c.ID, c.TenantID).Scan(&exists); err != nil {
			return fmt.Errorf("check client: %w", err)
		}
		if !exists {
			return fmt.Errorf("client %s: %w", c.ID, core.ErrNotFound)
		}
		return fmt.Errorf("client %s: %w", c.ID, core.ErrVersionConflict)
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetClients(ctx context.Context, tenantID string, ids []string) ([]core.Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL
	`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

// KeySet builds the tenant's value->id map for one target field in a
// single query. When several records share a value any one id may win.
func (s *Store) KeySet(ctx context.Context, tenantID, field string) (map[string]string, error) {
	var rows pgx.Rows
	var err error
	if col, ok := fieldColumns[field]; ok {
		rows, err = s.pool.Query(ctx, `
			SELECT `+col+`, id FROM clients
			WHERE tenant_id = $1 AND deleted_at IS NULL AND `+col+` <> ''
		`, tenantID)
	} else if key, ok := customKey(field); ok {
		rows, err = s.pool.Query(ctx, `
			SELECT COALESCE(custom->>$2, ''), id FROM clients
			WHERE tenant_id = $1 AND deleted_at IS NULL AND COALESCE(custom->>$2, '') <> ''
		`, tenantID, key)
	} else {
		return nil, fmt.Errorf("key field %q: %w", field, core.ErrUnknownField)
	}
	if err != nil {
		return nil, fmt.Errorf("query key set: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var value, id string
		if err := rows.Scan(&value, &id); err != nil {
			return nil, fmt.Errorf("scan key set: %w", err)
		}
		keys[value] = id
	}
	return keys, rows.Err()
}

func (s *Store) FindByFilter(ctx context.Context, tenantID string, filter core.ExportFilter) ([]core.Client, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + clientColumns + ` FROM clients WHERE tenant_id = $1 AND deleted_at IS NULL`)
	args := []any{tenantID}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		fmt.Fprintf(&b, " AND status = ANY($%d)", len(args))
	}
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		fmt.Fprintf(&b, " AND tags && $%d", len(args))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		fmt.Fprintf(&b, " AND created_at >= $%d", len(args))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		fmt.Fprintf(&b, " AND created_at <= $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		fmt.Fprintf(&b, " AND (name ILIKE $%d OR tax_id ILIKE $%d OR email ILIKE $%d)", n, n, n)
	}
	if len(filter.Custom) > 0 {
		customJSON, err := json.Marshal(filter.Custom)
		if err != nil {
			return nil, fmt.Errorf("marshal custom filter: %w", err)
		}
		args = append(args, customJSON)
		fmt.Fprintf(&b, " AND custom @> $%d", len(args))
	}
	b.WriteString(" ORDER BY name ASC")

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query clients by filter: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

func (s *Store) DeleteClient(ctx context.Context, tenantID, id string, hard bool) error {
	var tag pgconn.CommandTag
	var err error
	if hard {
		tag, err = s.pool.Exec(ctx, `
			DELETE FROM clients WHERE id = $1 AND tenant_id = $2
		`, id, tenantID)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE clients SET deleted_at = NOW(), version = version + 1, updated_at = NOW()
			WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		`, id, tenantID)
	}
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) RestoreClient(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients SET deleted_at = NULL, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NOT NULL
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("restore client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanClients(rows pgx.Rows) ([]core.Client, error) {
	var out []core.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanClient(row pgx.Row) (core.Client, error) {
	var c core.Client
	var status string
	var customJSON []byte
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.TaxID, &c.BusinessID, &c.Email, &c.Phone,
		&c.Street, &c.City, &c.PostalCode, &status, &c.ManagerID, &c.Tags, &customJSON,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Client{}, core.ErrNotFound
		}
		return core.Client{}, fmt.Errorf("scan client: %w", err)
	}
	c.Status = core.ClientStatus(status)
	if len(customJSON) > 0 {
		if err := json.Unmarshal(customJSON, &c.Custom); err != nil {
			return core.Client{}, fmt.Errorf("unmarshal custom fields: %w", err)
		}
	}
	if len(c.Custom) == 0 {
		c.Custom = nil
	}
	return c, nil
}

func customOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func customKey(field string) (string, bool) {
	if strings.HasPrefix(field, core.CustomFieldPrefix) {
		key := strings.TrimPrefix(field, core.CustomFieldPrefix)
		return key, key != ""
	}
	// The notes field is stored inside the custom document.
	if field == "notes" {
		return "notes", true
	}
	return "", false
}
