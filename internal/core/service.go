package core

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rejestr/bulkio/internal/telemetry"
)

// DefaultBatchSize is the number of rows processed between progress
// flushes and cancellation checks.
const DefaultBatchSize = 100

// MaxFileSize caps uploaded source files (50 MB).
var MaxFileSize int64 = 50 * 1024 * 1024

// Service owns the job registry and drives the import, export and bulk
// mutation executors. All public methods are tenant scoped and safe for
// concurrent use.
type Service struct {
	clients   ClientStore
	jobs      JobStore
	templates TemplateStore
	mutations MutationStore
	blobs     BlobStore
	queue     JobQueue
	audit     AuditSink
	auditLog  AuditReader
	batchSize int

	mu     sync.RWMutex
	active map[string]*activeJob
}

// activeJob tracks one in-flight execution: a cooperative cancellation
// flag checked between batches, and live counters for polling clients.
// Counters have a single writer (the executor); readers take the lock.
type activeJob struct {
	cancelled atomic.Bool

	mu         sync.RWMutex
	total      int
	processed  int
	successful int
	failed     int
}

func (a *activeJob) update(total, processed, successful, failed int) {
	a.mu.Lock()
	a.total, a.processed, a.successful, a.failed = total, processed, successful, failed
	a.mu.Unlock()
}

func (a *activeJob) snapshot() (total, processed, successful, failed int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total, a.processed, a.successful, a.failed
}

// Deps collects the collaborators a Service needs.
type Deps struct {
	Clients   ClientStore
	Jobs      JobStore
	Templates TemplateStore
	Mutations MutationStore
	Blobs     BlobStore
	Queue     JobQueue
	Audit     AuditSink
	// AuditLog is optional; without it the audit trail is write-only.
	AuditLog  AuditReader
	BatchSize int
}

// NewService wires a Service from its collaborators.
func NewService(d Deps) *Service {
	batch := d.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	audit := d.Audit
	if audit == nil {
		audit = LogSink{}
	}
	return &Service{
		clients:   d.Clients,
		jobs:      d.Jobs,
		templates: d.Templates,
		mutations: d.Mutations,
		blobs:     d.Blobs,
		queue:     d.Queue,
		audit:     audit,
		auditLog:  d.AuditLog,
		batchSize: batch,
		active:    make(map[string]*activeJob),
	}
}

// UploadFile stores an uploaded source file in blob storage and returns
// its reference for later start-import / validate-import commands.
func (s *Service) UploadFile(ctx context.Context, tenantID, fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrBadRequest)
	}
	if int64(len(data)) > MaxFileSize {
		return "", fmt.Errorf("%w: file exceeds %d MB limit", ErrBadRequest, MaxFileSize/(1024*1024))
	}
	key := path.Join("uploads", tenantID, uuid.New().String()+strings.ToLower(path.Ext(fileName)))
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return key, nil
}

// ImportRequest carries the parameters of a start-import or
// validate-import command.
type ImportRequest struct {
	// JobID resumes a job previously left in VALIDATING by
	// validate-import; all other fields are ignored when set.
	JobID string `json:"jobId,omitempty"`

	FileRef    string     `json:"fileRef"`
	FileName   string     `json:"fileName"`
	Format     FileFormat `json:"format,omitempty"`
	Encoding   string     `json:"encoding,omitempty"`
	HeaderRows int        `json:"headerRows,omitempty"`

	// TemplateID loads a saved mapping; Mapping rules override it per
	// source column.
	TemplateID   string            `json:"templateId,omitempty"`
	Mapping      ColumnMapping     `json:"mapping,omitempty"`
	Strategy     DuplicateStrategy `json:"strategy,omitempty"`
	DuplicateKey string            `json:"duplicateKey,omitempty"`
	Owner        string            `json:"owner,omitempty"`
}

// prepareImport resolves the request into a job plus the parsed rows.
// Parse failures are fatal and reported synchronously; no job is created.
func (s *Service) prepareImport(ctx context.Context, tenantID string, req ImportRequest) (*Job, []Row, *Resolver, error) {
	if req.FileRef == "" {
		return nil, nil, nil, fmt.Errorf("%w: missing fileRef", ErrBadRequest)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategySkip
	}
	if !ValidDuplicateStrategy(strategy) {
		return nil, nil, nil, fmt.Errorf("%w: unknown strategy %q", ErrBadRequest, req.Strategy)
	}
	dupKey := req.DuplicateKey
	if dupKey == "" {
		dupKey = "taxId"
	}
	if _, ok := LookupField(dupKey); !ok {
		return nil, nil, nil, fmt.Errorf("%w: %q (duplicate key)", ErrUnknownField, dupKey)
	}
	// tags is multi-valued; the store cannot build a key set over it.
	if dupKey == "tags" {
		return nil, nil, nil, fmt.Errorf("%w: tags cannot be a duplicate key", ErrBadRequest)
	}

	mapping := req.Mapping
	if req.TemplateID != "" {
		tpl, err := s.templates.GetTemplate(ctx, tenantID, req.TemplateID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load template: %w", err)
		}
		mapping = MergeMapping(tpl.Columns, req.Mapping)
	}
	resolver, err := NewResolver(mapping)
	if err != nil {
		return nil, nil, nil, err
	}

	data, err := s.blobs.Get(ctx, req.FileRef)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch source file: %w", err)
	}
	format := req.Format
	if format == "" {
		format = DetectFormat(req.FileName)
	}
	rows, err := ParseFile(data, ParseOptions{
		Format:     format,
		Encoding:   req.Encoding,
		HeaderRows: req.HeaderRows,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	now := time.Now().UTC()
	job := &Job{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Kind:         KindImport,
		Status:       JobPending,
		Owner:        req.Owner,
		FileName:     req.FileName,
		FileFormat:   format,
		FileSize:     int64(len(data)),
		FileRef:      req.FileRef,
		Encoding:     req.Encoding,
		HeaderRows:   req.HeaderRows,
		Mapping:      mapping,
		Strategy:     strategy,
		DuplicateKey: dupKey,
		Total:        len(rows),
		CreatedAt:    now,
	}
	return job, rows, resolver, nil
}

// StartImport registers an import job and submits it for asynchronous
// execution. The caller gets the job id immediately and polls for status.
func (s *Service) StartImport(ctx context.Context, tenantID string, req ImportRequest) (*Job, error) {
	if req.JobID != "" {
		return s.resumeValidated(ctx, tenantID, req.JobID)
	}

	job, _, _, err := s.prepareImport(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	telemetry.JobsStarted.WithLabelValues(string(KindImport)).Inc()
	s.recordAudit(ctx, AuditEvent{
		Type: AuditJobTransition, TenantID: tenantID, JobID: job.ID,
		Status: string(JobPending), Actor: req.Owner,
	})
	return job, nil
}

// resumeValidated re-submits a job that validate-import left addressable
// in VALIDATING.
func (s *Service) resumeValidated(ctx context.Context, tenantID, jobID string) (*Job, error) {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobValidating {
		return nil, fmt.Errorf("%w: job is %s", ErrJobState, job.Status)
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	telemetry.JobsStarted.WithLabelValues(string(KindImport)).Inc()
	return job, nil
}

// ValidateImport creates a job, runs the validation engine synchronously
// and returns the report. Discovered row errors are persisted against the
// job even if it is never executed; the job stays addressable in
// VALIDATING and can be resumed by start-import with its id.
func (s *Service) ValidateImport(ctx context.Context, tenantID string, req ImportRequest) (*Job, *ValidationReport, error) {
	job, rows, resolver, err := s.prepareImport(ctx, tenantID, req)
	if err != nil {
		return nil, nil, err
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.transition(ctx, job, JobValidating, ""); err != nil {
		return nil, nil, err
	}

	report, err := s.runValidation(ctx, job, rows, resolver)
	if err != nil {
		return nil, nil, err
	}
	report.Preview = previewRows(rows, resolver, previewLimit)
	return job, report, nil
}

// previewLimit caps the resolved sample returned by validate-import.
const previewLimit = 10

func previewRows(rows []Row, resolver *Resolver, limit int) []RowPreview {
	if len(rows) == 0 {
		return nil
	}
	if limit > len(rows) {
		limit = len(rows)
	}
	preview := make([]RowPreview, 0, limit)
	for _, row := range rows[:limit] {
		preview = append(preview, RowPreview{RowNumber: row.Number, Values: resolver.Resolve(row)})
	}
	return preview
}

// runValidation executes the validation engine for a job and persists the
// discovered row errors.
func (s *Service) runValidation(ctx context.Context, job *Job, rows []Row, resolver *Resolver) (*ValidationReport, error) {
	existing, err := s.clients.KeySet(ctx, job.TenantID, job.DuplicateKey)
	if err != nil {
		return nil, fmt.Errorf("build key set: %w", err)
	}
	report := NewValidator(resolver, job.DuplicateKey, existing).Validate(job.ID, rows)
	if len(report.Errors) > 0 {
		if err := s.jobs.AddRowErrors(ctx, report.Errors); err != nil {
			return nil, fmt.Errorf("persist row errors: %w", err)
		}
	}
	return &report, nil
}

// StartExport registers an export job and submits it for asynchronous
// execution.
func (s *Service) StartExport(ctx context.Context, tenantID, owner string, spec ExportSpec) (*Job, error) {
	if spec.Format == "" {
		spec.Format = FormatCSV
	}
	if spec.Format != FormatCSV && spec.Format != FormatXLSX {
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrBadRequest, spec.Format)
	}
	if len(spec.Fields) == 0 {
		return nil, fmt.Errorf("%w: no export fields requested", ErrBadRequest)
	}
	for _, f := range spec.Fields {
		if _, ok := LookupField(f); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}
	for _, st := range spec.Filter.Statuses {
		if !ValidClientStatus(st) {
			return nil, fmt.Errorf("%w: unknown status %q in filter", ErrBadRequest, st)
		}
	}

	job := &Job{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Kind:      KindExport,
		Status:    JobPending,
		Owner:     owner,
		Export:    &spec,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	telemetry.JobsStarted.WithLabelValues(string(KindExport)).Inc()
	s.recordAudit(ctx, AuditEvent{
		Type: AuditJobTransition, TenantID: tenantID, JobID: job.ID,
		Status: string(JobPending), Actor: owner,
	})
	return job, nil
}

// CancelJob requests cooperative cancellation. Accepted only while the job
// is PENDING, VALIDATING or PROCESSING; an in-flight batch is never
// interrupted mid-batch.
func (s *Service) CancelJob(ctx context.Context, tenantID, jobID string) error {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if !Cancellable(job.Status) {
		return fmt.Errorf("%w: job is %s", ErrJobState, job.Status)
	}

	// Flag the in-flight executor first; it observes the flag between
	// batches. Jobs still waiting in the queue are dropped outright.
	s.mu.RLock()
	a := s.active[jobID]
	s.mu.RUnlock()
	if a != nil {
		a.cancelled.Store(true)
		return nil
	}

	_ = s.queue.Remove(ctx, jobID)
	if err := s.transition(ctx, job, JobCancelled, ""); err != nil {
		// The executor may have registered between our lookup and the
		// store write; fall back to the cooperative flag.
		if errors.Is(err, ErrJobState) {
			s.mu.RLock()
			a := s.active[jobID]
			s.mu.RUnlock()
			if a != nil {
				a.cancelled.Store(true)
				return nil
			}
		}
		return err
	}
	now := time.Now().UTC()
	_ = s.jobs.SetJobCompleted(ctx, jobID, now)
	telemetry.JobsFinished.WithLabelValues(string(job.Kind), string(JobCancelled)).Inc()
	return nil
}

// JobStatus returns the polling snapshot for one job, overlaying the live
// in-memory counters when the job is executing.
func (s *Service) JobStatus(ctx context.Context, tenantID, jobID string) (*JobStatusView, error) {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	total, processed, successful, failed := job.Total, job.Processed, job.Successful, job.Failed
	s.mu.RLock()
	a := s.active[jobID]
	s.mu.RUnlock()
	if a != nil {
		total, processed, successful, failed = a.snapshot()
	}

	errorCount, err := s.jobs.CountRowErrors(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("count row errors: %w", err)
	}

	view := &JobStatusView{
		ID:              job.ID,
		Kind:            job.Kind,
		Status:          job.Status,
		FileName:        job.FileName,
		Total:           total,
		Processed:       processed,
		Successful:      successful,
		Failed:          failed,
		ProgressPercent: ProgressPercent(processed, total),
		ErrorCount:      errorCount,
		ResultRef:       job.ResultRef,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
	if !job.Terminal() {
		view.EstimatedSecondsRemaining = EstimateRemaining(job.StartedAt, processed, total, time.Now().UTC())
	}
	return view, nil
}

// ListJobs returns the tenant's recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, tenantID string, limit int) ([]Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.ListJobs(ctx, tenantID, limit)
}

// DeleteJob removes a finished job and its row errors. Running jobs must
// be cancelled first.
func (s *Service) DeleteJob(ctx context.Context, tenantID, jobID string) error {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if !job.Terminal() {
		return fmt.Errorf("%w: job is %s", ErrJobState, job.Status)
	}
	return s.jobs.DeleteJob(ctx, tenantID, jobID)
}

// RecentAuditEvents returns the tenant's latest audit events, newest
// first. Empty when no persistent audit sink is configured.
func (s *Service) RecentAuditEvents(ctx context.Context, tenantID string, limit int) ([]AuditEvent, error) {
	if s.auditLog == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.auditLog.RecentEvents(ctx, tenantID, limit)
}

// ListRowErrors pages through a job's persisted row errors.
func (s *Service) ListRowErrors(ctx context.Context, tenantID, jobID string, limit, offset int) ([]RowError, error) {
	if _, err := s.jobs.GetJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.jobs.ListRowErrors(ctx, jobID, limit, offset)
}

// JobResult fetches a completed export's artifact.
func (s *Service) JobResult(ctx context.Context, tenantID, jobID string) ([]byte, *Job, error) {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.ResultRef == "" {
		return nil, nil, fmt.Errorf("%w: job has no result artifact", ErrNotFound)
	}
	data, err := s.blobs.Get(ctx, job.ResultRef)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch artifact: %w", err)
	}
	return data, job, nil
}

// transition validates and persists a job status change, emitting one
// audit event per transition. Updates job in place on success. The store
// write is a compare-and-set against the caller's view of the status, so
// a concurrent actor that moved the job first surfaces as ErrJobState.
func (s *Service) transition(ctx context.Context, job *Job, to JobStatus, errorSummary string) error {
	if err := checkTransition(job.Status, to); err != nil {
		return err
	}
	if err := s.jobs.UpdateJobStatus(ctx, job.ID, job.Status, to, errorSummary); err != nil {
		if errors.Is(err, ErrJobState) {
			return err
		}
		return fmt.Errorf("update job status: %w", err)
	}
	job.Status = to
	job.ErrorSummary = errorSummary
	s.recordAudit(ctx, AuditEvent{
		Type:     AuditJobTransition,
		TenantID: job.TenantID,
		JobID:    job.ID,
		Status:   string(to),
		Detail:   errorSummary,
	})
	return nil
}

// register installs the in-memory tracking entry for an executing job.
func (s *Service) register(jobID string, total int) *activeJob {
	a := &activeJob{}
	a.update(total, 0, 0, 0)
	s.mu.Lock()
	s.active[jobID] = a
	s.mu.Unlock()
	telemetry.ActiveJobs.Inc()
	return a
}

func (s *Service) unregister(jobID string) {
	s.mu.Lock()
	delete(s.active, jobID)
	s.mu.Unlock()
	telemetry.ActiveJobs.Dec()
}
