package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/csvload/internal/colmap"
	"github.com/JonMunkholm/csvload/internal/logging"
)

// Service is the entry point used by the CLI and the HTTP API: bounded
// parallel loads plus batch history and rollback.
type Service struct {
	loader  *Loader
	store   Store
	limiter *LoadLimiter
}

// NewService creates a Service. The limiter bounds concurrent file loads
// across every caller of the service.
func NewService(loader *Loader, limiter *LoadLimiter) *Service {
	if limiter == nil {
		limiter = NewLoadLimiter(DefaultMaxConcurrentLoads, DefaultMaxWaitTime)
	}
	return &Service{
		loader:  loader,
		store:   loader.store,
		limiter: limiter,
	}
}

// Registry returns the column-map registry.
func (s *Service) Registry() *colmap.Registry {
	return s.loader.Registry()
}

// Migrate creates the ledger and the target table.
func (s *Service) Migrate(ctx context.Context) error {
	if err := s.store.Migrate(ctx, s.loader.Registry().Schema()); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// LoadFile loads one file while holding a limiter slot.
func (s *Service) LoadFile(ctx context.Context, spec FileSpec) (res LoadResult, err error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return s.rejected(spec, err), err
	}
	defer s.limiter.Release()

	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("panic during load",
				"file", spec.Path,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("internal error: %v", r)
			res = s.rejected(spec, err)
		}
	}()

	return s.loader.LoadFile(ctx, spec)
}

func (s *Service) rejected(spec FileSpec, err error) LoadResult {
	res := LoadResult{
		FileID:   fileID(spec.Path),
		Path:     spec.Path,
		SourceID: spec.SourceID,
		Phase:    PhaseFailed,
		Err:      err,
		Error:    err.Error(),
		Code:     MapError(err).Code,
	}
	return res
}

// LoadAll loads files in parallel, at most workers at a time and never more
// than the limiter allows. Results are in input order. One file's failure
// does not stop the others.
//
// Workers are capped at the limiter's slot count so files of one call never
// queue behind each other long enough to time out.
func (s *Service) LoadAll(ctx context.Context, specs []FileSpec, workers int) []LoadResult {
	if slots := s.limiter.MaxConcurrent(); workers <= 0 || workers > slots {
		workers = slots
	}

	results := make([]LoadResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, spec := range specs {
		g.Go(func() error {
			results[i], _ = s.LoadFile(gctx, spec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// LimiterStatus returns the load limiter state.
func (s *Service) LimiterStatus() LoadLimiterStatus {
	return s.limiter.Status()
}

// WaitForLoads blocks until in-flight loads finish or ctx is done.
func (s *Service) WaitForLoads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ListBatches returns ledger rows, newest first.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultBatchListLimit
	}
	batches, err := s.store.ListBatches(ctx, filter)
	if err != nil {
		return nil, storageErr("list batches", err)
	}
	return batches, nil
}

// GetBatch returns one ledger row.
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return nil, err
		}
		return nil, storageErr("get batch", err)
	}
	return b, nil
}

// RollbackBatch deletes every row a committed batch wrote. The version
// stays reserved.
func (s *Service) RollbackBatch(ctx context.Context, id uuid.UUID) (RollbackResult, error) {
	result := RollbackResult{BatchID: id}

	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return result, err
	}
	result.Table = b.Table
	result.Version = b.Version

	switch b.Status {
	case BatchCommitted:
	case BatchRolledBack:
		return result, ErrAlreadyRolledBack
	default:
		return result, fmt.Errorf("%w: status is %s", ErrBatchNotCommitted, b.Status)
	}

	n, err := s.store.RollbackBatch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAlreadyRolledBack) || errors.Is(err, ErrBatchNotFound) || errors.Is(err, ErrBatchNotCommitted) {
			return result, err
		}
		return result, storageErr("rollback batch", err)
	}
	result.RowsDeleted = n

	logging.FromContext(ctx).Info("batch rolled back",
		"batch_id", id,
		"table", b.Table,
		"version", b.Version,
		"rows_deleted", n,
	)
	return result, nil
}

// ParseBatchID parses a batch id given by a user.
func ParseBatchID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid batch id %q: %w", s, err)
	}
	return id, nil
}

// DefaultShutdownWait bounds WaitForLoads during shutdown when the caller
// has no deadline of its own.
const DefaultShutdownWait = 30 * time.Second
