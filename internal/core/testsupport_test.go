package core

// In-memory fakes backing the service tests. They honor the same contracts
// as the Postgres store: tenant scoping, optimistic versioning, atomic
// reversal claims.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Client store fake
// ============================================================================

type memClientStore struct {
	mu      sync.Mutex
	clients map[string]*Client

	// failUpdateIDs makes UpdateClient fail once per listed id, simulating
	// a concurrent version conflict.
	failUpdateIDs map[string]bool
}

func newMemClientStore() *memClientStore {
	return &memClientStore{
		clients:       make(map[string]*Client),
		failUpdateIDs: make(map[string]bool),
	}
}

func (m *memClientStore) CreateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *memClientStore) UpdateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateIDs[c.ID] {
		delete(m.failUpdateIDs, c.ID)
		return fmt.Errorf("client %s: %w", c.ID, ErrVersionConflict)
	}
	cur, ok := m.clients[c.ID]
	if !ok || cur.TenantID != c.TenantID {
		return fmt.Errorf("client %s: %w", c.ID, ErrNotFound)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("client %s: %w", c.ID, ErrVersionConflict)
	}
	cp := *c
	cp.Version = cur.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	m.clients[c.ID] = &cp
	c.Version = cp.Version
	return nil
}

func (m *memClientStore) GetClients(_ context.Context, tenantID string, ids []string) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Client
	for _, id := range ids {
		c, ok := m.clients[id]
		if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memClientStore) KeySet(_ context.Context, tenantID, field string) (map[string]string, error) {
	// Same contract as the Postgres store: scalar registry fields, notes
	// and custom:* keys only.
	spec, ok := LookupField(field)
	if !ok || field == "tags" {
		return nil, fmt.Errorf("key field %q: %w", field, ErrUnknownField)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[string]string)
	for _, c := range m.clients {
		if c.TenantID != tenantID || c.DeletedAt != nil {
			continue
		}
		if v := spec.Get(c); v != "" {
			keys[v] = c.ID
		}
	}
	return keys, nil
}

func (m *memClientStore) FindByFilter(_ context.Context, tenantID string, filter ExportFilter) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Client
	for _, c := range m.clients {
		if c.TenantID != tenantID || c.DeletedAt != nil {
			continue
		}
		if !matchFilter(c, filter) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func matchFilter(c *Client, f ExportFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if c.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range c.Tags {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedFrom != nil && c.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && c.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.Search != "" {
		s := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.Name), s) &&
			!strings.Contains(strings.ToLower(c.TaxID), s) &&
			!strings.Contains(strings.ToLower(c.Email), s) {
			return false
		}
	}
	for k, v := range f.Custom {
		if c.Custom[k] != v {
			return false
		}
	}
	return true
}

func (m *memClientStore) DeleteClient(_ context.Context, tenantID, id string, hard bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || c.TenantID != tenantID {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	if hard {
		delete(m.clients, id)
		return nil
	}
	if c.DeletedAt != nil {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	c.Version++
	return nil
}

func (m *memClientStore) RestoreClient(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt == nil {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	c.DeletedAt = nil
	c.Version++
	return nil
}

// get returns the stored record by id, including soft-deleted ones.
func (m *memClientStore) get(id string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (m *memClientStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// ============================================================================
// Job store fake
// ============================================================================

type memJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	rowErrors []RowError
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*Job)}
}

func (m *memJobStore) CreateJob(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobStore) GetJob(_ context.Context, tenantID, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobStore) GetJobByID(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobStore) ListJobs(_ context.Context, tenantID string, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.TenantID == tenantID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobStore) UpdateJobStatus(_ context.Context, id string, from, to JobStatus, errorSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != from {
		return fmt.Errorf("job %s is %s: %w", id, j.Status, ErrJobState)
	}
	j.Status = to
	if errorSummary != "" {
		j.ErrorSummary = errorSummary
	}
	return nil
}

func (m *memJobStore) UpdateJobProgress(_ context.Context, id string, total, processed, successful, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Total, j.Processed, j.Successful, j.Failed = total, processed, successful, failed
	return nil
}

func (m *memJobStore) SetJobStarted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.StartedAt = &at
	}
	return nil
}

func (m *memJobStore) SetJobCompleted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.CompletedAt = &at
	}
	return nil
}

func (m *memJobStore) SetJobResult(_ context.Context, id string, resultRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.ResultRef = resultRef
	}
	return nil
}

func (m *memJobStore) AddRowErrors(_ context.Context, errs []RowError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rowErrors = append(m.rowErrors, errs...)
	return nil
}

func (m *memJobStore) ListRowErrors(_ context.Context, jobID string, limit, offset int) ([]RowError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []RowError
	for _, e := range m.rowErrors {
		if e.JobID == jobID {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RowNumber < all[j].RowNumber })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memJobStore) DeleteJob(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.jobs, id)
	kept := m.rowErrors[:0]
	for _, e := range m.rowErrors {
		if e.JobID != id {
			kept = append(kept, e)
		}
	}
	m.rowErrors = kept
	return nil
}

func (m *memJobStore) CountRowErrors(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.rowErrors {
		if e.JobID == jobID {
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Template, mutation, blob, queue and audit fakes
// ============================================================================

type memTemplateStore struct {
	mu        sync.Mutex
	templates map[string]*MappingTemplate
}

func newMemTemplateStore() *memTemplateStore {
	return &memTemplateStore{templates: make(map[string]*MappingTemplate)}
}

func (m *memTemplateStore) CreateTemplate(_ context.Context, t *MappingTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m *memTemplateStore) GetTemplate(_ context.Context, tenantID, id string) (*MappingTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTemplateStore) ListTemplates(_ context.Context, tenantID string) ([]MappingTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MappingTemplate
	for _, t := range m.templates {
		if t.TenantID == tenantID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memTemplateStore) DeleteTemplate(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || t.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.templates, id)
	return nil
}

type memMutationStore struct {
	mu        sync.Mutex
	mutations map[string]*BulkMutation
}

func newMemMutationStore() *memMutationStore {
	return &memMutationStore{mutations: make(map[string]*BulkMutation)}
}

func (m *memMutationStore) CreateMutation(_ context.Context, mut *BulkMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mut
	m.mutations[mut.ID] = &cp
	return nil
}

func (m *memMutationStore) GetMutation(_ context.Context, tenantID, id string) (*BulkMutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mut, ok := m.mutations[id]
	if !ok || mut.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *mut
	return &cp, nil
}

func (m *memMutationStore) MarkReversed(_ context.Context, tenantID, id, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mut, ok := m.mutations[id]
	if !ok || mut.TenantID != tenantID {
		return fmt.Errorf("mutation %s: %w", id, ErrNotFound)
	}
	if !mut.Reversible || mut.ReversedAt != nil {
		return fmt.Errorf("mutation %s: %w", id, ErrReversal)
	}
	mut.ReversedAt = &at
	mut.ReversedBy = actor
	return nil
}

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

func (m *memBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	return data, nil
}

type memQueue struct {
	mu  sync.Mutex
	ids []string
}

func (m *memQueue) Enqueue(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, jobID)
	return nil
}

func (m *memQueue) Dequeue(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ids) == 0 {
		return "", nil
	}
	id := m.ids[0]
	m.ids = m.ids[1:]
	return id, nil
}

func (m *memQueue) Remove(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.ids[:0]
	for _, id := range m.ids {
		if id != jobID {
			out = append(out, id)
		}
	}
	m.ids = out
	return nil
}

func (m *memQueue) Depth(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.ids)), nil
}

// ============================================================================
// Service fixture
// ============================================================================

type fixture struct {
	svc       *Service
	clients   *memClientStore
	jobs      *memJobStore
	templates *memTemplateStore
	mutations *memMutationStore
	blobs     *memBlobStore
	queue     *memQueue
}

func newFixture() *fixture {
	f := &fixture{
		clients:   newMemClientStore(),
		jobs:      newMemJobStore(),
		templates: newMemTemplateStore(),
		mutations: newMemMutationStore(),
		blobs:     newMemBlobStore(),
		queue:     &memQueue{},
	}
	f.svc = NewService(Deps{
		Clients:   f.clients,
		Jobs:      f.jobs,
		Templates: f.templates,
		Mutations: f.mutations,
		Blobs:     f.blobs,
		Queue:     f.queue,
	})
	return f
}

func (f *fixture) seedClient(c Client) Client {
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.Version == 0 {
		c.Version = 1
	}
	_ = f.clients.CreateClient(context.Background(), &c)
	return c
}

// uploadCSV stores a CSV body and registers an import over it.
func (f *fixture) uploadCSV(tenant, body string) string {
	ref := "uploads/" + tenant + "/test.csv"
	_ = f.blobs.Put(context.Background(), ref, []byte(body))
	return ref
}

var testMapping = ColumnMapping{
	"Nazwa":  {TargetField: "name", Required: true},
	"NIP":    {TargetField: "taxId", Transform: TransformStripFormatting, Required: true},
	"Email":  {TargetField: "email"},
	"Miasto": {TargetField: "city"},
}
