package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Uploads
// ============================================================================

func TestUploadFile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ref, err := f.svc.UploadFile(ctx, "t1", "klienci.csv", []byte("Nazwa\nAlfa\n"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if !strings.HasPrefix(ref, "uploads/t1/") || !strings.HasSuffix(ref, ".csv") {
		t.Errorf("ref = %q, want uploads/t1/<id>.csv", ref)
	}
	data, err := f.blobs.Get(ctx, ref)
	if err != nil {
		t.Fatalf("blob fetch: %v", err)
	}
	if !bytes.Equal(data, []byte("Nazwa\nAlfa\n")) {
		t.Error("stored bytes differ from upload")
	}

	if _, err := f.svc.UploadFile(ctx, "t1", "empty.csv", nil); !errors.Is(err, ErrBadRequest) {
		t.Errorf("empty upload error = %v, want %v", err, ErrBadRequest)
	}
}

// ============================================================================
// Templates
// ============================================================================

func TestTemplateLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tpl, err := f.svc.CreateTemplate(ctx, "t1", "anna", "GUS standard", ColumnMapping{
		"Nazwa": {TargetField: "name", Required: true},
		"NIP":   {TargetField: "taxId", Transform: TransformStripFormatting},
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if tpl.ID == "" || tpl.TenantID != "t1" {
		t.Errorf("template = %+v, want id and tenant set", tpl)
	}

	if _, err := f.svc.CreateTemplate(ctx, "t1", "anna", "  ", testMapping); !errors.Is(err, ErrBadRequest) {
		t.Errorf("blank name error = %v, want %v", err, ErrBadRequest)
	}
	if _, err := f.svc.CreateTemplate(ctx, "t1", "anna", "zle", ColumnMapping{"Kol": {TargetField: "shoeSize"}}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("bad mapping error = %v, want %v", err, ErrUnknownField)
	}

	list, err := f.svc.ListTemplates(ctx, "t1")
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 1 || list[0].Name != "GUS standard" {
		t.Errorf("list = %v, want the one created template", list)
	}
	if other, _ := f.svc.ListTemplates(ctx, "t2"); len(other) != 0 {
		t.Errorf("other tenant sees %d templates, want 0", len(other))
	}

	if err := f.svc.DeleteTemplate(ctx, "t2", "anna", tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant delete error = %v, want %v", err, ErrNotFound)
	}
	if err := f.svc.DeleteTemplate(ctx, "t1", "anna", tpl.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if list, _ := f.svc.ListTemplates(ctx, "t1"); len(list) != 0 {
		t.Errorf("list after delete = %v, want empty", list)
	}
}

func TestImportUsesTemplateWithOverride(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tpl, err := f.svc.CreateTemplate(ctx, "t1", "anna", "GUS standard", ColumnMapping{
		"Nazwa": {TargetField: "name", Required: true},
		"NIP":   {TargetField: "taxId"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	ref := f.uploadCSV("t1", "Nazwa,NIP,Miasto\nAlfa,527-010-33-91,Warszawa\n")
	job, err := f.svc.StartImport(ctx, "t1", ImportRequest{
		FileRef:    ref,
		TemplateID: tpl.ID,
		// Ad-hoc rules override the template per source column.
		Mapping: ColumnMapping{
			"NIP":    {TargetField: "taxId", Transform: TransformStripFormatting},
			"Miasto": {TargetField: "city"},
		},
	})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	if err := f.svc.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	keys, _ := f.clients.KeySet(ctx, "t1", "taxId")
	id, ok := keys["5270103391"]
	if !ok {
		t.Fatal("record not found under normalized tax id")
	}
	got := f.clients.get(id)
	if got.Name != "Alfa" || got.City != "Warszawa" {
		t.Errorf("record = %+v, want template and override rules applied", got)
	}
}

// ============================================================================
// Job listing
// ============================================================================

func TestListJobs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		job := &Job{
			ID: string(rune('a' + i)), TenantID: "t1", Kind: KindImport,
			Status: JobCompleted, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := f.jobs.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	jobs, err := f.svc.ListJobs(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	// Newest first.
	if jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Errorf("order = %s, %s, want c, b", jobs[0].ID, jobs[1].ID)
	}

	if jobs, _ := f.svc.ListJobs(ctx, "t2", 0); len(jobs) != 0 {
		t.Errorf("other tenant sees %d jobs, want 0", len(jobs))
	}
}

func TestDeleteJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ref := f.uploadCSV("t1", "Nazwa,NIP\n,123\n")

	job, err := f.svc.StartImport(ctx, "t1", ImportRequest{FileRef: ref, Mapping: testMapping})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}

	// A job that has not reached a terminal state cannot be removed.
	if err := f.svc.DeleteJob(ctx, "t1", job.ID); !errors.Is(err, ErrJobState) {
		t.Errorf("delete of pending job error = %v, want %v", err, ErrJobState)
	}

	if err := f.svc.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}
	if n, _ := f.jobs.CountRowErrors(ctx, job.ID); n == 0 {
		t.Fatal("expected row errors before deletion")
	}

	if err := f.svc.DeleteJob(ctx, "t2", job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant delete error = %v, want %v", err, ErrNotFound)
	}
	if err := f.svc.DeleteJob(ctx, "t1", job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := f.jobs.GetJob(ctx, "t1", job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("job still present after delete: %v", err)
	}
	// Row errors go with the job.
	if n, _ := f.jobs.CountRowErrors(ctx, job.ID); n != 0 {
		t.Errorf("row errors after delete = %d, want 0", n)
	}
}

// ============================================================================
// Worker loop
// ============================================================================

func TestWorkerExecutesQueuedJobs(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ref := f.uploadCSV("t1", "Nazwa,NIP\nAlfa,5270103391\n")
	job, err := f.svc.StartImport(ctx, "t1", ImportRequest{FileRef: ref, Mapping: testMapping})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}

	w := NewWorker(f.svc, 5*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		got, err := f.jobs.GetJob(ctx, "t1", job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == JobCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job stuck in %s", got.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if f.clients.count() != 1 {
		t.Errorf("store holds %d records, want 1", f.clients.count())
	}
}

// ============================================================================
// Audit sink
// ============================================================================

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingSink) Record(_ context.Context, e AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []AuditEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestAuditTrail(t *testing.T) {
	f := newFixture()
	sink := &recordingSink{}
	f.svc.audit = sink
	ctx := context.Background()

	ref := f.uploadCSV("t1", "Nazwa,NIP\nAlfa,5270103391\n")
	job, err := f.svc.StartImport(ctx, "t1", ImportRequest{FileRef: ref, Mapping: testMapping, Owner: "anna"})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	if err := f.svc.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	var transitions int
	for _, typ := range sink.types() {
		if typ == AuditJobTransition {
			transitions++
		}
	}
	// PENDING on submit, then VALIDATING, PROCESSING and COMPLETED.
	if transitions != 4 {
		t.Errorf("job transition events = %d, want 4", transitions)
	}

	for _, e := range sink.events {
		if e.At.IsZero() {
			t.Error("event timestamp not stamped")
		}
		if e.TenantID != "t1" {
			t.Errorf("event tenant = %q, want t1", e.TenantID)
		}
	}

	// Without a persistent reader the trail is write-only.
	if events, err := f.svc.RecentAuditEvents(ctx, "t1", 10); err != nil || events != nil {
		t.Errorf("RecentAuditEvents = %v, %v, want empty and no error", events, err)
	}
}
