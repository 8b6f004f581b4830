package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvload/internal/schema"
)

// Store is the storage collaborator: the versioned ledger plus the target
// tables. Implementations live under internal/storage.
type Store interface {
	VersionStore

	// Begin opens the transaction a batch is written in.
	Begin(ctx context.Context) (Tx, error)

	// FinishBatch records a terminal status for a reserved batch outside
	// any load transaction. It is used to mark failed loads.
	FinishBatch(ctx context.Context, id uuid.UUID, status BatchStatus, message string) error

	// FindCommitted returns the committed batch with the given table and
	// checksum, or ErrBatchNotFound.
	FindCommitted(ctx context.Context, table, checksum string) (*Batch, error)

	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)

	// GetBatch returns ErrBatchNotFound for unknown ids.
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)

	// RollbackBatch deletes the rows of a committed batch and marks it
	// rolled back, atomically. It returns the number of rows deleted.
	RollbackBatch(ctx context.Context, id uuid.UUID) (int64, error)

	// Migrate creates the ledger and the target table for s if missing.
	Migrate(ctx context.Context, s *schema.Schema) error

	Close() error
}

// Tx is one batch transaction. Rollback after Commit is a no-op.
type Tx interface {
	// InsertRecords writes enriched records to table, tagging each row with
	// batchID. fields fixes the column order of the canonical values.
	InsertRecords(ctx context.Context, table string, batchID uuid.UUID, fields []string, records []CanonicalRecord) (int64, error)

	// CompleteBatch marks the ledger row committed inside the transaction.
	CompleteBatch(ctx context.Context, id uuid.UUID, rows int64, loadedAt time.Time) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
