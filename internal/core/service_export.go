package core

// service_export.go is the export executor. Matching records are fetched
// in one deterministic ordering (name ascending), requested fields are
// resolved through the field registry's extractor table, and the artifact
// is written as delimited text (UTF-8 BOM, RFC-4180 quoting) or as a
// spreadsheet. Export has no partial-row failure mode: the job's counters
// are all set to the record count on completion.

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rejestr/bulkio/internal/logging"
	"github.com/rejestr/bulkio/internal/telemetry"
)

func (s *Service) runExport(ctx context.Context, job *Job, a *activeJob) error {
	log := logging.WithFields(ctx, "job_id", job.ID, "tenant", job.TenantID, "kind", job.Kind)

	spec := job.Export
	if spec == nil {
		return s.failJob(ctx, job, "export job has no spec")
	}

	extractors := make([]func(*Client) string, len(spec.Fields))
	for i, name := range spec.Fields {
		fs, ok := LookupField(name)
		if !ok {
			return s.failJob(ctx, job, fmt.Sprintf("unknown export field %q", name))
		}
		extractors[i] = fs.Get
	}

	if ok, err := s.tryTransition(ctx, job, JobProcessing, ""); !ok {
		return err
	}
	startedAt := time.Now().UTC()
	if err := s.jobs.SetJobStarted(ctx, job.ID, startedAt); err != nil {
		return fmt.Errorf("mark job started: %w", err)
	}
	job.StartedAt = &startedAt

	clients, err := s.clients.FindByFilter(ctx, job.TenantID, spec.Filter)
	if err != nil {
		return s.failJob(ctx, job, fmt.Sprintf("query records: %v", err))
	}
	if a.cancelled.Load() {
		return s.cancelRunning(ctx, job, 0, 0, 0)
	}

	var artifact []byte
	switch spec.Format {
	case FormatXLSX:
		artifact, err = writeXLSX(spec.Fields, extractors, clients)
	default:
		artifact, err = writeCSV(spec.Fields, extractors, clients)
	}
	if err != nil {
		return s.failJob(ctx, job, fmt.Sprintf("write artifact: %v", err))
	}

	resultRef := path.Join("exports", job.TenantID, job.ID+"."+string(spec.Format))
	if err := s.blobs.Put(ctx, resultRef, artifact); err != nil {
		return s.failJob(ctx, job, fmt.Sprintf("store artifact: %v", err))
	}
	if err := s.jobs.SetJobResult(ctx, job.ID, resultRef); err != nil {
		return s.failJob(ctx, job, fmt.Sprintf("record artifact: %v", err))
	}
	job.ResultRef = resultRef

	n := len(clients)
	if err := s.jobs.UpdateJobProgress(ctx, job.ID, n, n, n, 0); err != nil {
		return s.failJob(ctx, job, fmt.Sprintf("update progress: %v", err))
	}
	a.update(n, n, n, 0)

	if ok, err := s.tryTransition(ctx, job, JobCompleted, ""); !ok {
		return err
	}
	now := time.Now().UTC()
	_ = s.jobs.SetJobCompleted(ctx, job.ID, now)
	telemetry.JobsFinished.WithLabelValues(string(job.Kind), string(JobCompleted)).Inc()

	log.Info("export completed", "records", n, "format", spec.Format, "artifact", resultRef)
	return nil
}

// writeCSV emits delimited text with a byte-order mark so common
// spreadsheet tools pick up the encoding. encoding/csv applies RFC-4180
// quoting: fields containing the delimiter or quote are quoted, with
// embedded quotes doubled.
func writeCSV(fields []string, extractors []func(*Client) string, clients []Client) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(bomUTF8)

	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	record := make([]string, len(extractors))
	for i := range clients {
		for col, extract := range extractors {
			record[col] = extract(&clients[i])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeXLSX(fields []string, extractors []func(*Client) string, clients []Client) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	for col, name := range fields {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for row := range clients {
		for col, extract := range extractors {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, extract(&clients[row])); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
