package store

import (
	"context"
	"fmt"
)

// Schema statements applied in order on startup. Statements are idempotent
// so repeated runs are safe. tax_id intentionally carries no unique
// constraint: the CREATE_NEW duplicate strategy may create several records
// sharing a key.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS clients (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		name        TEXT NOT NULL,
		tax_id      TEXT NOT NULL DEFAULT '',
		business_id TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		phone       TEXT NOT NULL DEFAULT '',
		street      TEXT NOT NULL DEFAULT '',
		city        TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		manager_id  TEXT NOT NULL DEFAULT '',
		tags        TEXT[] NOT NULL DEFAULT '{}',
		custom      JSONB NOT NULL DEFAULT '{}',
		version     INTEGER NOT NULL DEFAULT 1,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clients_tenant ON clients (tenant_id) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_clients_tenant_tax ON clients (tenant_id, tax_id) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_clients_tenant_name ON clients (tenant_id, name) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		kind          TEXT NOT NULL,
		status        TEXT NOT NULL,
		owner         TEXT NOT NULL DEFAULT '',
		file_name     TEXT NOT NULL DEFAULT '',
		file_format   TEXT NOT NULL DEFAULT '',
		file_size     BIGINT NOT NULL DEFAULT 0,
		file_ref      TEXT NOT NULL DEFAULT '',
		encoding      TEXT NOT NULL DEFAULT '',
		header_rows   INTEGER NOT NULL DEFAULT 0,
		mapping       JSONB,
		strategy      TEXT NOT NULL DEFAULT '',
		duplicate_key TEXT NOT NULL DEFAULT '',
		export_spec   JSONB,
		total         INTEGER NOT NULL DEFAULT 0,
		processed     INTEGER NOT NULL DEFAULT 0,
		successful    INTEGER NOT NULL DEFAULT 0,
		failed        INTEGER NOT NULL DEFAULT 0,
		result_ref    TEXT NOT NULL DEFAULT '',
		error_summary TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_tenant_created ON jobs (tenant_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS row_errors (
		job_id     TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		row_number INTEGER NOT NULL,
		field      TEXT NOT NULL DEFAULT '',
		kind       TEXT NOT NULL,
		message    TEXT NOT NULL,
		raw_value  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_row_errors_job ON row_errors (job_id, row_number)`,

	`CREATE TABLE IF NOT EXISTS mapping_templates (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		columns    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS bulk_mutations (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		actor       TEXT NOT NULL DEFAULT '',
		operation   JSONB NOT NULL,
		target_ids  TEXT[] NOT NULL,
		snapshots   JSONB,
		successful  INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0,
		errors      JSONB,
		reversible  BOOLEAN NOT NULL DEFAULT TRUE,
		reversed_at TIMESTAMPTZ,
		reversed_by TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bulk_mutations_tenant ON bulk_mutations (tenant_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id            BIGSERIAL PRIMARY KEY,
		event_type    TEXT NOT NULL,
		tenant_id     TEXT NOT NULL,
		actor         TEXT NOT NULL DEFAULT '',
		job_id        TEXT NOT NULL DEFAULT '',
		mutation_id   TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT '',
		detail        TEXT NOT NULL DEFAULT '',
		rows_affected INTEGER NOT NULL DEFAULT 0,
		at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events (tenant_id, at DESC)`,
}

// RunMigrations executes the schema statements in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration %d: %w", i, err)
		}
	}
	return nil
}
