package core

// service_import.go is the import executor. Rows are processed in fixed
// size batches strictly in file order: per-row failures are absorbed as
// PROCESSING_ERROR row errors and never abort the job, counters are
// flushed after every batch, and the cancellation flag is observed between
// batches only. A job FAILS solely on errors outside the per-row loop.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rejestr/bulkio/internal/logging"
	"github.com/rejestr/bulkio/internal/telemetry"
)

// rowOutcome is the typed result of one per-row apply.
type rowOutcome int

const (
	rowCreated rowOutcome = iota
	rowUpdated
	rowSkipped
)

// ExecuteJob runs one queued job to a terminal state. Called by the
// worker; jobID ownership is exclusive to this executor.
func (s *Service) ExecuteJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		// Cancelled (or otherwise finished) before the worker got to it.
		return nil
	}

	// Register before the first transition so a cancel arriving at any
	// point of the run reaches the cooperative flag instead of racing the
	// status writes.
	a := s.register(job.ID, job.Total)
	defer s.unregister(job.ID)

	switch job.Kind {
	case KindImport:
		return s.runImport(ctx, job, a)
	case KindExport:
		return s.runExport(ctx, job, a)
	default:
		return s.failJob(ctx, job, fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

// tryTransition applies an executor-side status change. A lost
// compare-and-set means a concurrent cancel finalized the job between the
// worker's fetch and this write; the run stops cleanly. The bool reports
// whether the executor may continue.
func (s *Service) tryTransition(ctx context.Context, job *Job, to JobStatus, summary string) (bool, error) {
	err := s.transition(ctx, job, to, summary)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrJobState) {
		logging.FromContext(ctx).Info("job already finalized, stopping executor",
			"job_id", job.ID, "wanted", to)
		return false, nil
	}
	return false, err
}

func (s *Service) runImport(ctx context.Context, job *Job, a *activeJob) error {
	log := logging.WithFields(ctx, "job_id", job.ID, "tenant", job.TenantID, "kind", job.Kind)

	resolver, err := NewResolver(job.Mapping)
	if err != nil {
		return s.failJob(ctx, job, err.Error())
	}

	data, err := s.blobs.Get(ctx, job.FileRef)
	if err != nil {
		return s.failJob(ctx, job, fmt.Sprintf("fetch source file: %v", err))
	}
	rows, err := ParseFile(data, ParseOptions{
		Format:     job.FileFormat,
		Encoding:   job.Encoding,
		HeaderRows: job.HeaderRows,
	})
	if err != nil {
		return s.failJob(ctx, job, err.Error())
	}

	// Validation runs once per job. A job resumed from VALIDATING has
	// its report already persisted by validate-import.
	if job.Status == JobPending {
		if ok, err := s.tryTransition(ctx, job, JobValidating, ""); !ok {
			return err
		}
		if _, err := s.runValidation(ctx, job, rows, resolver); err != nil {
			return s.failJob(ctx, job, fmt.Sprintf("validation: %v", err))
		}
	}

	existing, err := s.clients.KeySet(ctx, job.TenantID, job.DuplicateKey)
	if err != nil {
		return s.failJob(ctx, job, fmt.Sprintf("build key set: %v", err))
	}

	if ok, err := s.tryTransition(ctx, job, JobProcessing, ""); !ok {
		return err
	}
	startedAt := time.Now().UTC()
	if err := s.jobs.SetJobStarted(ctx, job.ID, startedAt); err != nil {
		return fmt.Errorf("mark job started: %w", err)
	}
	job.StartedAt = &startedAt

	a.update(len(rows), 0, 0, 0)

	log.Info("import started", "rows", len(rows), "strategy", job.Strategy)

	var processed, successful, failed int
	for start := 0; start < len(rows); start += s.batchSize {
		if a.cancelled.Load() {
			return s.cancelRunning(ctx, job, processed, successful, failed)
		}

		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		var batchErrs []RowError
		for _, row := range rows[start:end] {
			resolved := resolver.Resolve(row)
			outcome, err := s.applyRow(ctx, job, resolver, resolved, existing)
			if err != nil {
				failed++
				batchErrs = append(batchErrs, RowError{
					JobID:     job.ID,
					RowNumber: row.Number,
					Kind:      ErrKindProcessing,
					Message:   err.Error(),
					RawValue:  resolved[job.DuplicateKey],
				})
			} else if outcome != rowSkipped {
				successful++
			}
			processed++
		}

		if len(batchErrs) > 0 {
			if err := s.jobs.AddRowErrors(ctx, batchErrs); err != nil {
				return s.failJob(ctx, job, fmt.Sprintf("persist row errors: %v", err))
			}
		}
		if err := s.jobs.UpdateJobProgress(ctx, job.ID, len(rows), processed, successful, failed); err != nil {
			return s.failJob(ctx, job, fmt.Sprintf("update progress: %v", err))
		}
		a.update(len(rows), processed, successful, failed)
		telemetry.RowsProcessed.Add(float64(end - start))
	}

	if ok, err := s.tryTransition(ctx, job, JobCompleted, ""); !ok {
		return err
	}
	now := time.Now().UTC()
	_ = s.jobs.SetJobCompleted(ctx, job.ID, now)
	telemetry.JobsFinished.WithLabelValues(string(job.Kind), string(JobCompleted)).Inc()

	log.Info("import completed", "processed", processed, "successful", successful, "failed", failed)
	return nil
}

// applyRow is the per-row atomic apply: it resolves the duplicate key,
// branches on the configured strategy and performs exactly one store call.
// Skipped rows count as neither success nor failure.
func (s *Service) applyRow(ctx context.Context, job *Job, resolver *Resolver, resolved map[string]string, existing map[string]string) (rowOutcome, error) {
	key := resolved[job.DuplicateKey]
	existingID, found := existing[key]
	if key == "" {
		found = false
	}

	if found {
		switch job.Strategy {
		case StrategySkip:
			return rowSkipped, nil
		case StrategyUpdate:
			return rowUpdated, s.updateExisting(ctx, job.TenantID, existingID, resolver, resolved)
		case StrategyCreateNew:
			// Deliberately creates a second record sharing the same
			// duplicate key; the store does not enforce uniqueness on it.
		}
	}

	client := &Client{
		ID:       uuid.New().String(),
		TenantID: job.TenantID,
		Status:   StatusActive,
		Version:  1,
	}
	if err := setResolvedFields(client, resolver, resolved); err != nil {
		return rowCreated, err
	}
	if client.Name == "" {
		return rowCreated, fmt.Errorf("record has no name")
	}
	if err := s.clients.CreateClient(ctx, client); err != nil {
		return rowCreated, fmt.Errorf("create record: %w", err)
	}
	return rowCreated, nil
}

func (s *Service) updateExisting(ctx context.Context, tenantID, id string, resolver *Resolver, resolved map[string]string) error {
	clients, err := s.clients.GetClients(ctx, tenantID, []string{id})
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if len(clients) == 0 {
		return fmt.Errorf("record %s disappeared", id)
	}
	client := clients[0]
	if err := setResolvedFields(&client, resolver, resolved); err != nil {
		return err
	}
	if err := s.clients.UpdateClient(ctx, &client); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

func setResolvedFields(c *Client, resolver *Resolver, resolved map[string]string) error {
	for field, value := range resolved {
		if value == "" {
			continue
		}
		spec, ok := resolver.Spec(field)
		if !ok {
			continue
		}
		if err := spec.Set(c, value); err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
	}
	return nil
}

// cancelRunning finalizes a cooperatively cancelled job, keeping the
// progress achieved by completed batches.
func (s *Service) cancelRunning(ctx context.Context, job *Job, processed, successful, failed int) error {
	if err := s.jobs.UpdateJobProgress(ctx, job.ID, job.Total, processed, successful, failed); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if ok, err := s.tryTransition(ctx, job, JobCancelled, ""); !ok {
		return err
	}
	now := time.Now().UTC()
	_ = s.jobs.SetJobCompleted(ctx, job.ID, now)
	telemetry.JobsFinished.WithLabelValues(string(job.Kind), string(JobCancelled)).Inc()
	return nil
}

// failJob transitions a job to FAILED with an error summary. Used only for
// failures outside the per-row loop.
func (s *Service) failJob(ctx context.Context, job *Job, summary string) error {
	if ok, err := s.tryTransition(ctx, job, JobFailed, summary); !ok {
		return err
	}
	now := time.Now().UTC()
	_ = s.jobs.SetJobCompleted(ctx, job.ID, now)
	telemetry.JobsFinished.WithLabelValues(string(job.Kind), string(JobFailed)).Inc()
	logging.FromContext(ctx).Error("job failed", "job_id", job.ID, "error", summary)
	return nil
}
