package core

// ports.go declares the external collaborators the engine depends on.
// Implementations live in internal/store (Postgres), internal/blob (S3 or
// local filesystem) and internal/queue (Redis). Every store call is scoped
// to the caller's tenant; the engine never bypasses tenant scoping.

import (
	"context"
	"time"
)

// ClientStore is the persisted-record collaborator. Updates are protected
// by optimistic versioning: UpdateClient must reject a stale Version with
// ErrVersionConflict.
type ClientStore interface {
	CreateClient(ctx context.Context, c *Client) error
	UpdateClient(ctx context.Context, c *Client) error
	// GetClients returns the records with the given ids that belong to
	// the tenant; ids outside the tenant are simply absent from the
	// result.
	GetClients(ctx context.Context, tenantID string, ids []string) ([]Client, error)
	// KeySet returns the tenant's current value->id map for one target
	// field, built in a single query. When several records share a value
	// any one id may win.
	KeySet(ctx context.Context, tenantID, field string) (map[string]string, error)
	// FindByFilter evaluates the declarative filter and returns matches
	// ordered by name ascending.
	FindByFilter(ctx context.Context, tenantID string, filter ExportFilter) ([]Client, error)
	DeleteClient(ctx context.Context, tenantID, id string, hard bool) error
	RestoreClient(ctx context.Context, tenantID, id string) error
}

// JobStore persists jobs and their row errors. Row errors are owned by
// their job and removed with it.
type JobStore interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, tenantID, id string) (*Job, error)
	// GetJobByID is the worker-side unscoped lookup; the job row itself
	// carries the tenant the executor must operate under.
	GetJobByID(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, tenantID string, limit int) ([]Job, error)
	// UpdateJobStatus moves the job from one status to another as a
	// compare-and-set: the write applies only while the job still holds
	// the from status. A lost race returns ErrJobState so a terminal
	// status is never overwritten.
	UpdateJobStatus(ctx context.Context, id string, from, to JobStatus, errorSummary string) error
	// UpdateJobProgress atomically replaces the job's counters. Called
	// once per batch; readers must never observe processed decrease.
	UpdateJobProgress(ctx context.Context, id string, total, processed, successful, failed int) error
	SetJobStarted(ctx context.Context, id string, at time.Time) error
	SetJobCompleted(ctx context.Context, id string, at time.Time) error
	SetJobResult(ctx context.Context, id string, resultRef string) error
	AddRowErrors(ctx context.Context, errs []RowError) error
	ListRowErrors(ctx context.Context, jobID string, limit, offset int) ([]RowError, error)
	CountRowErrors(ctx context.Context, jobID string) (int, error)
	// DeleteJob removes a job and, with it, its row errors.
	DeleteJob(ctx context.Context, tenantID, id string) error
}

// TemplateStore persists named, tenant-scoped mapping templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *MappingTemplate) error
	GetTemplate(ctx context.Context, tenantID, id string) (*MappingTemplate, error)
	ListTemplates(ctx context.Context, tenantID string) ([]MappingTemplate, error)
	DeleteTemplate(ctx context.Context, tenantID, id string) error
}

// MutationStore persists bulk mutation records. MarkReversed must be
// atomic with respect to concurrent reversal attempts: exactly one caller
// wins, later ones get ErrReversal.
type MutationStore interface {
	CreateMutation(ctx context.Context, m *BulkMutation) error
	GetMutation(ctx context.Context, tenantID, id string) (*BulkMutation, error)
	MarkReversed(ctx context.Context, tenantID, id, actor string, at time.Time) error
}

// BlobStore holds uploaded source files and generated result artifacts.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// JobQueue decouples job submission from execution: submitting returns
// immediately and a worker consumes ids asynchronously.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue pops the next job id, or "" when the queue is empty.
	Dequeue(ctx context.Context) (string, error)
	// Remove drops a not-yet-consumed id (cancellation of pending jobs).
	Remove(ctx context.Context, jobID string) error
	Depth(ctx context.Context) (int64, error)
}

// AuditEventType classifies audit events emitted by the engine.
type AuditEventType string

const (
	AuditJobTransition     AuditEventType = "job_transition"
	AuditMutationExecuted  AuditEventType = "mutation_executed"
	AuditMutationReversed  AuditEventType = "mutation_reversed"
	AuditTemplateCreated   AuditEventType = "template_created"
	AuditTemplateDeleted   AuditEventType = "template_deleted"
)

// AuditEvent is one fire-and-forget notification. The engine does not
// retry on sink failure; at-least-once is sufficient.
type AuditEvent struct {
	Type         AuditEventType `json:"type"`
	TenantID     string         `json:"tenantId"`
	Actor        string         `json:"actor,omitempty"`
	JobID        string         `json:"jobId,omitempty"`
	MutationID   string         `json:"mutationId,omitempty"`
	Status       string         `json:"status,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	RowsAffected int            `json:"rowsAffected,omitempty"`
	At           time.Time      `json:"at"`
}

// AuditSink receives audit events. Implementations must be safe for
// concurrent use.
type AuditSink interface {
	Record(ctx context.Context, e AuditEvent)
}

// AuditReader exposes the persisted audit trail when a store-backed sink
// is configured.
type AuditReader interface {
	RecentEvents(ctx context.Context, tenantID string, limit int) ([]AuditEvent, error)
}
