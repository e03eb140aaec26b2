// Package core implements the bulk data-exchange engine for the client
// registry: file parsing, column mapping, validation, batched import,
// filtered export and mass mutations. It has no HTTP dependencies and is
// driven through the Service type.
package core

import (
	"time"
)

// ClientStatus enumerates the lifecycle states of a registry record.
type ClientStatus string

const (
	StatusActive   ClientStatus = "ACTIVE"
	StatusInactive ClientStatus = "INACTIVE"
	StatusProspect ClientStatus = "PROSPECT"
	StatusArchived ClientStatus = "ARCHIVED"
)

// ValidClientStatus reports whether s is a recognized status value.
func ValidClientStatus(s ClientStatus) bool {
	switch s {
	case StatusActive, StatusInactive, StatusProspect, StatusArchived:
		return true
	}
	return false
}

// Client is one persisted registry record. Version carries the optimistic
// concurrency token: every successful update increments it, and updates
// with a stale version are rejected by the store.
type Client struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	Name       string            `json:"name"`
	TaxID      string            `json:"taxId"`
	BusinessID string            `json:"businessId,omitempty"`
	Email      string            `json:"email,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Street     string            `json:"street,omitempty"`
	City       string            `json:"city,omitempty"`
	PostalCode string            `json:"postalCode,omitempty"`
	Status     ClientStatus      `json:"status"`
	ManagerID  string            `json:"managerId,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Custom     map[string]string `json:"custom,omitempty"`
	Version    int               `json:"version"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	DeletedAt  *time.Time        `json:"deletedAt,omitempty"`
}

// JobKind distinguishes import runs from export runs.
type JobKind string

const (
	KindImport JobKind = "IMPORT"
	KindExport JobKind = "EXPORT"
)

// JobStatus is the job state machine.
//
//	PENDING -> VALIDATING -> PROCESSING -> COMPLETED | FAILED | CANCELLED
//
// Terminal states are immutable once reached; cancellation is accepted only
// before a terminal state.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobValidating JobStatus = "VALIDATING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
)

// FileFormat identifies the wire format of an uploaded or generated file.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

// DuplicateStrategy decides what happens when an incoming row's duplicate
// key matches an already persisted record.
type DuplicateStrategy string

const (
	StrategySkip      DuplicateStrategy = "SKIP"
	StrategyUpdate    DuplicateStrategy = "UPDATE"
	StrategyCreateNew DuplicateStrategy = "CREATE_NEW"
)

// ValidDuplicateStrategy reports whether s is a recognized strategy.
func ValidDuplicateStrategy(s DuplicateStrategy) bool {
	switch s {
	case StrategySkip, StrategyUpdate, StrategyCreateNew:
		return true
	}
	return false
}

// Transform is a value transformation applied during column resolution.
// The set is closed; unknown transforms are rejected at mapping time.
type Transform string

const (
	TransformNone      Transform = "NONE"
	TransformUppercase Transform = "UPPERCASE"
	TransformLowercase Transform = "LOWERCASE"
	TransformTrim      Transform = "TRIM"
	// TransformStripFormatting removes spaces and dashes. Used for
	// identifier fields entered as "527-010-33-91".
	TransformStripFormatting Transform = "STRIP_FORMATTING"
)

// ColumnRule maps one source column to a target field.
type ColumnRule struct {
	TargetField  string    `json:"targetField"`
	Transform    Transform `json:"transform,omitempty"`
	DefaultValue string    `json:"defaultValue,omitempty"`
	Required     bool      `json:"required,omitempty"`
}

// ColumnMapping maps source column names (as they appear in the file
// header) to resolution rules. Unmapped columns are ignored.
type ColumnMapping map[string]ColumnRule

// MappingTemplate is a named, tenant-scoped reusable column mapping.
// Templates are referenced by jobs but have an independent lifecycle.
type MappingTemplate struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenantId"`
	Name      string        `json:"name"`
	Columns   ColumnMapping `json:"columns"`
	CreatedAt time.Time     `json:"createdAt"`
}

// RowErrorKind classifies a per-row failure.
type RowErrorKind string

const (
	ErrKindRequired      RowErrorKind = "REQUIRED"
	ErrKindInvalidFormat RowErrorKind = "INVALID_FORMAT"
	ErrKindProcessing    RowErrorKind = "PROCESSING_ERROR"
)

// RowError is one validation or processing failure tied to a job. Row
// numbers refer to physical file rows so reports correlate back to the
// original file.
type RowError struct {
	JobID     string       `json:"jobId"`
	RowNumber int          `json:"rowNumber"`
	Field     string       `json:"field,omitempty"`
	Kind      RowErrorKind `json:"kind"`
	Message   string       `json:"message"`
	RawValue  string       `json:"rawValue,omitempty"`
}

// DuplicateHit flags one row whose duplicate key collides with an earlier
// row in the same file, with a persisted record, or both.
type DuplicateHit struct {
	RowNumber    int    `json:"rowNumber"`
	Key          string `json:"key"`
	ExistsInFile bool   `json:"existsInFile"`
	ExistsInDB   bool   `json:"existsInDb"`
}

// RowPreview is one resolved row shown back to the caller before an
// import is committed.
type RowPreview struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
}

// ValidationReport is the output of the validation engine for one job.
// ValidRecords counts rows with zero structural errors; duplicate status
// does not affect validity (duplicates are a resolution concern).
type ValidationReport struct {
	IsValid      bool           `json:"isValid"`
	Errors       []RowError     `json:"errors"`
	Duplicates   []DuplicateHit `json:"duplicates"`
	ValidRecords int            `json:"validRecords"`
	TotalRecords int            `json:"totalRecords"`
	Preview      []RowPreview   `json:"preview,omitempty"`
}

// ExportFilter is the declarative record filter evaluated by the persisted
// store. Empty members match everything.
type ExportFilter struct {
	Statuses    []ClientStatus    `json:"statuses,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	CreatedFrom *time.Time        `json:"createdFrom,omitempty"`
	CreatedTo   *time.Time        `json:"createdTo,omitempty"`
	Search      string            `json:"search,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// ExportSpec describes one export run.
type ExportSpec struct {
	Format FileFormat   `json:"format"`
	Fields []string     `json:"fields"`
	Filter ExportFilter `json:"filter"`
}

// Job is one tracked import or export run.
type Job struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenantId"`
	Kind         JobKind           `json:"kind"`
	Status       JobStatus         `json:"status"`
	Owner        string            `json:"owner,omitempty"`
	FileName     string            `json:"fileName,omitempty"`
	FileFormat   FileFormat        `json:"fileFormat,omitempty"`
	FileSize     int64             `json:"fileSize,omitempty"`
	FileRef      string            `json:"fileRef,omitempty"`
	Encoding     string            `json:"encoding,omitempty"`
	HeaderRows   int               `json:"headerRows,omitempty"`
	Mapping      ColumnMapping     `json:"mapping,omitempty"`
	Strategy     DuplicateStrategy `json:"strategy,omitempty"`
	DuplicateKey string            `json:"duplicateKey,omitempty"`
	Export       *ExportSpec       `json:"export,omitempty"`
	Total        int               `json:"total"`
	Processed    int               `json:"processed"`
	Successful   int               `json:"successful"`
	Failed       int               `json:"failed"`
	ResultRef    string            `json:"resultRef,omitempty"`
	ErrorSummary string            `json:"errorSummary,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has reached an immutable state.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobStatusView is the polling snapshot returned to callers.
type JobStatusView struct {
	ID                        string     `json:"id"`
	Kind                      JobKind    `json:"kind"`
	Status                    JobStatus  `json:"status"`
	FileName                  string     `json:"fileName,omitempty"`
	Total                     int        `json:"total"`
	Processed                 int        `json:"processed"`
	Successful                int        `json:"successful"`
	Failed                    int        `json:"failed"`
	ProgressPercent           int        `json:"progressPercent"`
	ErrorCount                int        `json:"errorCount"`
	ResultRef                 string     `json:"resultRef,omitempty"`
	StartedAt                 *time.Time `json:"startedAt,omitempty"`
	CompletedAt               *time.Time `json:"completedAt,omitempty"`
	EstimatedSecondsRemaining *float64   `json:"estimatedSecondsRemaining,omitempty"`
}

// BulkOpType tags the bulk operation variant.
type BulkOpType string

const (
	OpStatusChange  BulkOpType = "STATUS_CHANGE"
	OpAddTags       BulkOpType = "ADD_TAGS"
	OpRemoveTags    BulkOpType = "REMOVE_TAGS"
	OpUpdateField   BulkOpType = "UPDATE_FIELD"
	OpAssignManager BulkOpType = "ASSIGN_MANAGER"
	OpBatchDelete   BulkOpType = "BATCH_DELETE"
)

// BulkOperation is the tagged variant describing one mass mutation. Only
// the fields relevant to Type are consulted; Validate rejects payloads
// whose tag and parameters disagree.
type BulkOperation struct {
	Type      BulkOpType   `json:"type"`
	NewStatus ClientStatus `json:"newStatus,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	TagIDs    []string     `json:"tagIds,omitempty"`
	FieldName string       `json:"fieldName,omitempty"`
	Value     string       `json:"value,omitempty"`
	ManagerID string       `json:"managerId,omitempty"`
	Hard      bool         `json:"hard,omitempty"`
}

// Reversible reports whether the operation snapshots prior values and can
// be reversed later. Only a hard batch delete is irreversible.
func (op BulkOperation) Reversible() bool {
	return !(op.Type == OpBatchDelete && op.Hard)
}

// MutationError records a failure for one target id without stopping the
// remaining ids.
type MutationError struct {
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

// BulkMutation is the persisted record of one mass-mutation invocation.
// Snapshots hold pre-mutation values per id for reversible variants and
// permit exactly one later reversal.
type BulkMutation struct {
	ID         string                       `json:"id"`
	TenantID   string                       `json:"tenantId"`
	Actor      string                       `json:"actor,omitempty"`
	Operation  BulkOperation                `json:"operation"`
	TargetIDs  []string                     `json:"targetIds"`
	Snapshots  map[string]map[string]string `json:"snapshots,omitempty"`
	Successful int                          `json:"successful"`
	Failed     int                          `json:"failed"`
	Errors     []MutationError              `json:"errors,omitempty"`
	Reversible bool                         `json:"reversible"`
	ReversedAt *time.Time                   `json:"reversedAt,omitempty"`
	ReversedBy string                       `json:"reversedBy,omitempty"`
	CreatedAt  time.Time                    `json:"createdAt"`
}

// Row is one parsed file row: its physical row number and the raw cell
// values keyed by header column name.
type Row struct {
	Number int
	Fields map[string]string
}
