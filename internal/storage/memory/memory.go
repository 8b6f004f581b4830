// Package memory is an in-process storage collaborator. It backs dry runs
// and tests; nothing survives the process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/schema"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already finished")

// Row is one stored record tagged with its batch.
type Row struct {
	BatchID uuid.UUID
	Record  core.CanonicalRecord
}

// Store keeps the ledger and tables in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*core.Batch
	tables  map[string][]Row

	// InsertHook, when set, runs before each InsertRecords call and fails
	// it with the returned error.
	InsertHook func(table string, n int) error
}

var _ core.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		batches: make(map[uuid.UUID]*core.Batch),
		tables:  make(map[string][]Row),
	}
}

func (s *Store) Migrate(_ context.Context, sc *schema.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[sc.Table]; !ok {
		s.tables[sc.Table] = nil
	}
	return nil
}

func (s *Store) CurrentMaxVersion(_ context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	for _, b := range s.batches {
		if b.Scope == scope && b.Version > current {
			current = b.Version
		}
	}
	return current, nil
}

func (s *Store) ReserveVersion(_ context.Context, r core.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.Scope == r.Scope && b.Version == r.Version {
			return core.ErrVersionConflict
		}
	}
	if _, dup := s.batches[r.BatchID]; dup {
		return fmt.Errorf("batch %s already exists", r.BatchID)
	}
	s.batches[r.BatchID] = &core.Batch{
		ID:         r.BatchID,
		Scope:      r.Scope,
		Version:    r.Version,
		Table:      r.Table,
		SourceID:   r.SourceID,
		SourceFile: r.SourceFile,
		Checksum:   r.Checksum,
		Status:     core.BatchPending,
		StartedAt:  r.StartedAt,
	}
	return nil
}

func (s *Store) FinishBatch(_ context.Context, id uuid.UUID, status core.BatchStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return core.ErrBatchNotFound
	}
	now := time.Now().UTC()
	b.Status = status
	b.Error = message
	b.FinishedAt = &now
	return nil
}

func (s *Store) FindCommitted(_ context.Context, table, checksum string) (*core.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *core.Batch
	for _, b := range s.batches {
		if b.Table == table && b.Checksum == checksum && b.Status == core.BatchCommitted {
			if found == nil || b.Version > found.Version {
				found = b
			}
		}
	}
	if found == nil {
		return nil, core.ErrBatchNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *Store) ListBatches(_ context.Context, f core.BatchFilter) ([]core.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Batch
	for _, b := range s.batches {
		if f.Table != "" && b.Table != f.Table {
			continue
		}
		if f.Scope != "" && b.Scope != f.Scope {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].Version > out[j].Version
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetBatch(_ context.Context, id uuid.UUID) (*core.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, core.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) RollbackBatch(_ context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return 0, core.ErrBatchNotFound
	}
	switch b.Status {
	case core.BatchCommitted:
	case core.BatchRolledBack:
		return 0, core.ErrAlreadyRolledBack
	default:
		return 0, core.ErrBatchNotCommitted
	}

	rows := s.tables[b.Table]
	kept := rows[:0]
	var deleted int64
	for _, r := range rows {
		if r.BatchID == id {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.tables[b.Table] = kept

	now := time.Now().UTC()
	b.Status = core.BatchRolledBack
	b.FinishedAt = &now
	return deleted, nil
}

func (s *Store) Begin(_ context.Context) (core.Tx, error) {
	return &tx{store: s, staged: make(map[string][]Row)}, nil
}

func (s *Store) Close() error {
	return nil
}

// Rows returns a copy of the committed rows of table.
func (s *Store) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.tables[table]...)
}

type completion struct {
	id       uuid.UUID
	rows     int64
	loadedAt time.Time
}

// tx stages writes and applies them under the store lock on Commit.
type tx struct {
	store     *Store
	staged    map[string][]Row
	completed []completion
	done      bool
}

func (t *tx) InsertRecords(_ context.Context, table string, batchID uuid.UUID, _ []string, records []core.CanonicalRecord) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	if hook := t.store.InsertHook; hook != nil {
		if err := hook(table, len(records)); err != nil {
			return 0, err
		}
	}

	t.store.mu.Lock()
	_, exists := t.store.tables[table]
	t.store.mu.Unlock()
	if !exists {
		return 0, fmt.Errorf("no such table: %s", table)
	}

	for _, rec := range records {
		t.staged[table] = append(t.staged[table], Row{BatchID: batchID, Record: rec})
	}
	return int64(len(records)), nil
}

func (t *tx) CompleteBatch(_ context.Context, id uuid.UUID, rows int64, loadedAt time.Time) error {
	if t.done {
		return ErrTxDone
	}
	t.completed = append(t.completed, completion{id: id, rows: rows, loadedAt: loadedAt})
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range t.completed {
		b, ok := s.batches[c.id]
		if !ok {
			return core.ErrBatchNotFound
		}
		if b.Status != core.BatchPending {
			return fmt.Errorf("batch %s is %s, not pending", c.id, b.Status)
		}
	}
	for table, rows := range t.staged {
		s.tables[table] = append(s.tables[table], rows...)
	}
	now := time.Now().UTC()
	for _, c := range t.completed {
		b := s.batches[c.id]
		loadedAt := c.loadedAt
		b.Status = core.BatchCommitted
		b.RowsLoaded = c.rows
		b.LoadedAt = &loadedAt
		b.FinishedAt = &now
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	t.done = true
	t.staged = nil
	t.completed = nil
	return nil
}
