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

const jobColumns = `id, tenant_id, kind, status, owner, file_name, file_format, file_size,
	file_ref, encoding, header_rows, mapping, strategy, duplicate_key, export_spec,
	total, processed, successful, failed, result_ref, error_summary,
	created_at, started_at, completed_at`

func (s *Store) CreateJob(ctx context.Context, j *core.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}

	mappingJSON, err := nullableJSON(j.Mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	exportJSON, err := nullableJSON(j.Export)
	if err != nil {
		return fmt.Errorf("marshal export spec: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, tenant_id, kind, status, owner, file_name, file_format, file_size,
			file_ref, encoding, header_rows, mapping, strategy, duplicate_key, export_spec,
			total, processed, successful, failed, result_ref, error_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22)
	`, j.ID, j.TenantID, string(j.Kind), string(j.Status), j.Owner, j.FileName,
		string(j.FileFormat), j.FileSize, j.FileRef, j.Encoding, j.HeaderRows, mappingJSON,
		string(j.Strategy), j.DuplicateKey, exportJSON, j.Total, j.Processed, j.Successful,
		j.Failed, j.ResultRef, j.ErrorSummary, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, tenantID, id string) (*core.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanJob(row)
}

// GetJobByID is the worker-side lookup; the job row itself carries the
// tenant the executor operates under.
func (s *Store) GetJobByID(ctx context.Context, id string) (*core.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context, tenantID string, limit int) ([]core.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []core.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// UpdateJobStatus is a compare-and-set: the row only moves when it still
// holds the expected from status, so a concurrently cancelled job is never
// pushed out of its terminal state.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, from, to core.JobStatus, errorSummary string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $3,
			error_summary = CASE WHEN $4 <> '' THEN $4 ELSE error_summary END
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), errorSummary)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check job status: %w", err)
		}
		return fmt.Errorf("job %s is %s: %w", id, current, core.ErrJobState)
	}
	return nil
}

func (s *Store) UpdateJobProgress(ctx context.Context, id string, total, processed, successful, failed int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET total = $2, processed = $3, successful = $4, failed = $5
		WHERE id = $1
	`, id, total, processed, successful, failed)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (s *Store) SetJobStarted(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET started_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("set job started: %w", err)
	}
	return nil
}

func (s *Store) SetJobCompleted(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET completed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("set job completed: %w", err)
	}
	return nil
}

func (s *Store) SetJobResult(ctx context.Context, id string, resultRef string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET result_ref = $2 WHERE id = $1`, id, resultRef)
	if err != nil {
		return fmt.Errorf("set job result: %w", err)
	}
	return nil
}

// AddRowErrors inserts the batch in one round trip.
func (s *Store) AddRowErrors(ctx context.Context, errs []core.RowError) error {
	if len(errs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range errs {
		batch.Queue(`
			INSERT INTO row_errors (job_id, row_number, field, kind, message, raw_value)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.JobID, e.RowNumber, e.Field, string(e.Kind), e.Message, e.RawValue)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range errs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert row error: %w", err)
		}
	}
	return nil
}

func (s *Store) ListRowErrors(ctx context.Context, jobID string, limit, offset int) ([]core.RowError, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, row_number, field, kind, message, raw_value
		FROM row_errors
		WHERE job_id = $1
		ORDER BY row_number ASC
		LIMIT $2 OFFSET $3
	`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query row errors: %w", err)
	}
	defer rows.Close()

	var out []core.RowError
	for rows.Next() {
		var e core.RowError
		var kind string
		if err := rows.Scan(&e.JobID, &e.RowNumber, &e.Field, &kind, &e.Message, &e.RawValue); err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		e.Kind = core.RowErrorKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountRowErrors(ctx context.Context, jobID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM row_errors WHERE job_id = $1
	`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count row errors: %w", err)
	}
	return n, nil
}

// DeleteJob removes a job row; its row errors go with it through the FK
// cascade.
func (s *Store) DeleteJob(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (*core.Job, error) {
	var j core.Job
	var kind, status, format, strategy string
	var mappingJSON, exportJSON []byte

	err := row.Scan(&j.ID, &j.TenantID, &kind, &status, &j.Owner, &j.FileName, &format,
		&j.FileSize, &j.FileRef, &j.Encoding, &j.HeaderRows, &mappingJSON, &strategy,
		&j.DuplicateKey, &exportJSON, &j.Total, &j.Processed, &j.Successful, &j.Failed,
		&j.ResultRef, &j.ErrorSummary, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Kind = core.JobKind(kind)
	j.Status = core.JobStatus(status)
	j.FileFormat = core.FileFormat(format)
	j.Strategy = core.DuplicateStrategy(strategy)
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &j.Mapping); err != nil {
			return nil, fmt.Errorf("unmarshal mapping: %w", err)
		}
	}
	if len(exportJSON) > 0 {
		if err := json.Unmarshal(exportJSON, &j.Export); err != nil {
			return nil, fmt.Errorf("unmarshal export spec: %w", err)
		}
	}
	return &j, nil
}

func nullableJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case core.ColumnMapping:
		if t == nil {
			return nil, nil
		}
	case *core.ExportSpec:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
