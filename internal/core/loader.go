package core

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvload/internal/colmap"
	"github.com/JonMunkholm/csvload/internal/logging"
)

// MaxHeaderSearchRows is the maximum number of records scanned for the header.
var MaxHeaderSearchRows = 20

// ContextCheckInterval is how often, in rows, normalization checks for
// cancellation.
var ContextCheckInterval = 100

// DefaultBatchSize is the number of records per insert when none is configured.
const DefaultBatchSize = 1000

// LoaderConfig holds per-load settings.
type LoaderConfig struct {
	Scope          ScopeMode
	BatchSize      int
	MaxFileSize    int64
	Timeout        time.Duration
	SkipLoaded     bool
	VersionRetries int
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// Loader runs one file through the pipeline:
// resolve map, normalize every row, reserve a version, enrich, commit.
// A file is committed entirely or not at all.
type Loader struct {
	registry *colmap.Registry
	store    Store
	alloc    *Allocator
	cfg      LoaderConfig
	now      func() time.Time
}

// NewLoader creates a loader writing through store.
func NewLoader(registry *colmap.Registry, store Store, cfg LoaderConfig, opts ...LoaderOption) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeTable
	}
	l := &Loader{
		registry: registry,
		store:    store,
		alloc:    NewAllocator(store, cfg.VersionRetries),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the column-map registry the loader resolves against.
func (l *Loader) Registry() *colmap.Registry {
	return l.registry
}

// LoadFile loads one file. The returned result is always populated; on
// failure its Phase is PhaseFailed and the error is also returned.
func (l *Loader) LoadFile(ctx context.Context, spec FileSpec) (LoadResult, error) {
	start := l.now()
	res := LoadResult{
		FileID:   filepath.Base(spec.Path),
		Path:     spec.Path,
		SourceID: spec.SourceID,
		Phase:    PhasePending,
	}

	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	batchID := uuid.New()
	ctx = logging.WithBatchID(ctx, batchID.String())

	err := l.run(ctx, spec, batchID, &res)
	res.Duration = l.now().Sub(start)

	log := logging.WithFields(ctx, "file", res.FileID, "source", res.SourceID)
	if err != nil {
		failedAt := res.Phase
		res.Phase = PhaseFailed
		res.Err = err
		res.Error = err.Error()
		res.Code = MapError(err).Code
		if res.BatchID != uuid.Nil {
			l.markFailed(ctx, res.BatchID, err)
		}
		log.Error("load failed",
			"phase", failedAt,
			"version", res.Version,
			"code", res.Code,
			"duration_ms", res.Duration.Milliseconds(),
			"error", err,
		)
		return res, err
	}

	log.Info("load finished",
		"phase", res.Phase,
		"table", res.Table,
		"version", res.Version,
		"rows", res.RowsLoaded,
		"blank_rows", res.RowsSkipped,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (l *Loader) run(ctx context.Context, spec FileSpec, batchID uuid.UUID, res *LoadResult) error {
	cm, err := l.resolve(spec)
	if err != nil {
		return err
	}
	res.SourceID = cm.SourceID
	res.Table = cm.Table()
	l.advance(ctx, res, PhaseMappingResolved)

	if l.cfg.SkipLoaded {
		sum, err := fileChecksum(spec.Path, l.cfg.MaxFileSize)
		if err != nil {
			return err
		}
		prev, err := l.store.FindCommitted(ctx, cm.Table(), sum)
		switch {
		case err == nil:
			res.Checksum = sum
			res.Version = prev.Version
			l.advance(ctx, res, PhaseSkipped)
			return nil
		case !errors.Is(err, ErrBatchNotFound):
			return storageErr("find committed batch", err)
		}
	}

	l.advance(ctx, res, PhaseNormalizing)
	parsed, err := l.normalizeFile(ctx, cm, spec.Path)
	if err != nil {
		return err
	}
	res.Checksum = parsed.checksum
	res.RowsSkipped = parsed.blank

	version, err := l.alloc.NextVersion(ctx, Reservation{
		BatchID:    batchID,
		Scope:      Scope(l.cfg.Scope, cm.Table(), cm.SourceID),
		Table:      cm.Table(),
		SourceID:   cm.SourceID,
		SourceFile: res.FileID,
		Checksum:   parsed.checksum,
		StartedAt:  l.now().UTC(),
	})
	if err != nil {
		return err
	}
	res.BatchID = batchID
	res.Version = version

	loadedAt := l.now().UTC()
	records := parsed.records
	for i := range records {
		records[i] = Enrich(records[i], res.FileID, version, loadedAt)
	}
	l.advance(ctx, res, PhaseEnriched)

	n, err := l.commit(ctx, cm, batchID, records, loadedAt)
	if err != nil {
		return err
	}
	res.RowsLoaded = n
	l.advance(ctx, res, PhaseCommitted)
	return nil
}

func (l *Loader) advance(ctx context.Context, res *LoadResult, phase LoadPhase) {
	logging.FromContext(ctx).Debug("load phase",
		"file", res.FileID,
		"from", res.Phase,
		"to", phase,
	)
	res.Phase = phase
}

func (l *Loader) resolve(spec FileSpec) (*colmap.ColumnMap, error) {
	if spec.SourceID != "" {
		return l.registry.Resolve(spec.SourceID)
	}
	return l.registry.ResolveFile(spec.Path)
}

type parsedFile struct {
	records  []CanonicalRecord
	blank    int
	checksum string
}

// normalizeFile reads path and normalizes every data row. It stops at the
// first row that does not fit the map.
func (l *Loader) normalizeFile(ctx context.Context, cm *colmap.ColumnMap, path string) (*parsedFile, error) {
	f, err := openSource(path, l.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src := OpenSource(f, l.cfg.MaxFileSize)
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := findHeader(cr, cm.SourceColumns())
	if err != nil {
		return nil, err
	}
	norm, err := NewRowNormalizer(cm, header)
	if err != nil {
		return nil, err
	}

	out := &parsedFile{}
	for row := 1; ; row++ {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvErr(row, err)
		}

		if row%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// A short row of empty cells is still a cell-count error.
		if isEmptyRow(cells) && (len(cells) == 1 || len(cells) == norm.Width()) {
			out.blank++
			continue
		}

		line, _ := cr.FieldPos(0)
		rec, err := norm.Normalize(row, line, cells)
		if err != nil {
			return nil, err
		}
		out.records = append(out.records, rec)
	}

	out.checksum = src.Checksum()
	return out, nil
}

// findHeader returns the first of the leading records that names every
// mapped column. If none does, the first non-blank record is returned so
// binding reports the missing column.
func findHeader(cr *csv.Reader, cols []string) ([]string, error) {
	var first []string
	for i := 0; i < MaxHeaderSearchRows; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvErr(0, err)
		}
		if isEmptyRow(rec) {
			continue
		}
		if headerHasColumns(rec, cols) {
			return rec, nil
		}
		if first == nil {
			first = rec
		}
	}
	if first == nil {
		return nil, ErrEmptyFile
	}
	return first, nil
}

func csvErr(row int, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &RowFormatError{Row: row, Line: pe.Line, Kind: KindMalformed, Err: pe.Err}
	}
	return err
}

func openSource(path string, maxSize int64) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, filepath.Base(path), info.Size(), maxSize)
	}
	return f, nil
}

// fileChecksum returns the hex SHA-256 of the file's raw bytes.
func fileChecksum(path string, maxSize int64) (string, error) {
	f, err := openSource(path, maxSize)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, NewCountingReader(f, maxSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// commit writes records and completes the ledger row in one transaction.
func (l *Loader) commit(ctx context.Context, cm *colmap.ColumnMap, batchID uuid.UUID, records []CanonicalRecord, loadedAt time.Time) (int64, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return 0, storageErr("begin", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	fields := cm.Schema.FieldNames()
	var total int64
	for start := 0; start < len(records); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(records))
		n, err := tx.InsertRecords(ctx, cm.Table(), batchID, fields, records[start:end])
		if err != nil {
			return 0, storageErr("insert records", err)
		}
		total += n
	}

	if err := tx.CompleteBatch(ctx, batchID, total, loadedAt); err != nil {
		return 0, storageErr("complete batch", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storageErr("commit", err)
	}
	return total, nil
}

func (l *Loader) markFailed(ctx context.Context, id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := l.store.FinishBatch(ctx, id, BatchFailed, cause.Error()); err != nil {
		logging.FromContext(ctx).Warn("could not mark batch failed", "batch_id", id, "error", err)
	}
}
