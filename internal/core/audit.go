package core

// audit.go routes engine events to the configured sink. Delivery is
// fire-and-forget: a failing sink is logged and never fails the caller.

import (
	"context"
	"time"

	"github.com/rejestr/bulkio/internal/logging"
)

// LogSink writes audit events to the structured log. It is the default
// sink and the fallback when no persistent sink is configured.
type LogSink struct{}

// Record implements AuditSink.
func (LogSink) Record(ctx context.Context, e AuditEvent) {
	logging.FromContext(ctx).Info("audit",
		"type", e.Type,
		"tenant", e.TenantID,
		"actor", e.Actor,
		"job_id", e.JobID,
		"mutation_id", e.MutationID,
		"status", e.Status,
		"detail", e.Detail,
		"rows_affected", e.RowsAffected,
	)
}

// MultiSink fans one event out to several sinks.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, e AuditEvent) {
	for _, sink := range m {
		sink.Record(ctx, e)
	}
}

func (s *Service) recordAudit(ctx context.Context, e AuditEvent) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.audit.Record(ctx, e)
}
