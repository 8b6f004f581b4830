package core

import (
	"time"

	"github.com/google/uuid"
)

// LoadPhase indicates the current stage of a file load.
type LoadPhase string

const (
	PhasePending         LoadPhase = "pending"
	PhaseMappingResolved LoadPhase = "mapping_resolved"
	PhaseNormalizing     LoadPhase = "normalizing"
	PhaseEnriched        LoadPhase = "enriched"
	PhaseCommitted       LoadPhase = "committed"
	PhaseFailed          LoadPhase = "failed"
	PhaseSkipped         LoadPhase = "skipped"
)

// Terminal reports whether no further transition can happen.
func (p LoadPhase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseFailed || p == PhaseSkipped
}

// CanonicalRecord is one source row expressed in the canonical schema.
// Fields holds exactly one typed value (or typed NULL) per canonical field.
// The metadata fields are zero until the record is enriched.
type CanonicalRecord struct {
	Fields     map[string]any
	LoadedAt   time.Time
	SourceFile string
	Version    int64
}

// Enriched reports whether metadata has been attached.
func (r CanonicalRecord) Enriched() bool {
	return r.Version > 0
}

// Values returns the field values in the given order.
func (r CanonicalRecord) Values(fields []string) []any {
	vals := make([]any, len(fields))
	for i, f := range fields {
		vals[i] = r.Fields[f]
	}
	return vals
}

// RawRow is one data row together with the file's header.
// Row is 1-based over data rows; Line is the physical line in the file.
type RawRow struct {
	Header []string
	Cells  []string
	Row    int
	Line   int
}

// FileSpec names a file to load. An empty SourceID resolves the column map
// from the file name.
type FileSpec struct {
	Path     string `json:"path"`
	SourceID string `json:"source,omitempty"`
}

// LoadResult is the outcome of one file load.
type LoadResult struct {
	FileID      string        `json:"file_id"`
	Path        string        `json:"path"`
	SourceID    string        `json:"source_id,omitempty"`
	Table       string        `json:"table,omitempty"`
	BatchID     uuid.UUID     `json:"batch_id"`
	Version     int64         `json:"version,omitempty"`
	RowsLoaded  int64         `json:"rows_loaded"`
	RowsSkipped int           `json:"rows_skipped"`
	Phase       LoadPhase     `json:"phase"`
	Checksum    string        `json:"checksum,omitempty"`
	Duration    time.Duration `json:"duration_ns"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Failed reports whether the load ended in the failed phase.
func (r LoadResult) Failed() bool {
	return r.Phase == PhaseFailed
}

// BatchStatus is the ledger state of a reserved version.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchCommitted  BatchStatus = "committed"
	BatchFailed     BatchStatus = "failed"
	BatchRolledBack BatchStatus = "rolled_back"
)

// ParseBatchStatus validates a status name. The empty string is allowed and
// means "any".
func ParseBatchStatus(s string) (BatchStatus, bool) {
	switch st := BatchStatus(s); st {
	case "", BatchPending, BatchCommitted, BatchFailed, BatchRolledBack:
		return st, true
	default:
		return "", false
	}
}

// Batch is one ledger row: a version reserved for one file load.
type Batch struct {
	ID         uuid.UUID   `json:"id"`
	Scope      string      `json:"scope"`
	Version    int64       `json:"version"`
	Table      string      `json:"table"`
	SourceID   string      `json:"source_id"`
	SourceFile string      `json:"source_file"`
	Checksum   string      `json:"checksum"`
	Status     BatchStatus `json:"status"`
	RowsLoaded int64       `json:"rows_loaded"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	LoadedAt   *time.Time  `json:"loaded_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// BatchFilter narrows ListBatches. Zero values match everything.
type BatchFilter struct {
	Table  string
	Scope  string
	Status BatchStatus
	Limit  int
}

// DefaultBatchListLimit caps ListBatches when no limit is given.
const DefaultBatchListLimit = 50

// Reservation describes the ledger row written when a version is reserved.
// Version is filled in by the allocator.
type Reservation struct {
	BatchID    uuid.UUID
	Scope      string
	Version    int64
	Table      string
	SourceID   string
	SourceFile string
	Checksum   string
	StartedAt  time.Time
}

// RollbackResult reports a completed batch rollback.
type RollbackResult struct {
	BatchID     uuid.UUID `json:"batch_id"`
	Table       string    `json:"table"`
	Version     int64     `json:"version"`
	RowsDeleted int64     `json:"rows_deleted"`
}
