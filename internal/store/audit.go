package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/rejestr/bulkio/internal/core"
)

// AuditSink persists audit events alongside the data they describe.
// Failures are logged and swallowed; auditing never blocks the engine.
type AuditSink struct {
	store *Store
}

func NewAuditSink(s *Store) *AuditSink {
	return &AuditSink{store: s}
}

func (a *AuditSink) Record(ctx context.Context, e core.AuditEvent) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := a.store.pool.Exec(ctx, `
		INSERT INTO audit_events (event_type, tenant_id, actor, job_id, mutation_id, status,
			detail, rows_affected, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, string(e.Type), e.TenantID, e.Actor, e.JobID, e.MutationID, e.Status,
		e.Detail, e.RowsAffected, e.At)
	if err != nil {
		slog.Error("persist audit event", "type", e.Type, "tenant_id", e.TenantID, "error", err)
	}
}

// RecentEvents returns the latest audit events for a tenant, newest first.
func (s *Store) RecentEvents(ctx context.Context, tenantID string, limit int) ([]core.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_type, tenant_id, actor, job_id, mutation_id, status, detail, rows_affected, at
		FROM audit_events WHERE tenant_id = $1
		ORDER BY at DESC LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AuditEvent
	for rows.Next() {
		var e core.AuditEvent
		var eventType string
		if err := rows.Scan(&eventType, &e.TenantID, &e.Actor, &e.JobID, &e.MutationID,
			&e.Status, &e.Detail, &e.RowsAffected, &e.At); err != nil {
			return nil, err
		}
		e.Type = core.AuditEventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}
