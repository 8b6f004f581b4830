// Package postgres is the PostgreSQL storage collaborator. Records are
// written with COPY inside the same transaction that commits the ledger row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/schema"
	"github.com/JonMunkholm/csvload/internal/storage/postgres/migrations"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements core.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// Open connects using cfg, verifies the connection and applies the ledger
// migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := New(pool)
	if err := s.migrate(ctx, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// New wraps an existing pool. The ledger is assumed to exist.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return err
		})
		if err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// Migrate creates the target table for sc.
func (s *Store) Migrate(ctx context.Context, sc *schema.Schema) error {
	for _, stmt := range sc.CreateTableSQL(schema.Postgres) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating table %s: %w", sc.Table, err)
		}
	}
	return nil
}

func (s *Store) CurrentMaxVersion(ctx context.Context, scope string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM load_batches WHERE scope = $1", scope).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading max version: %w", err)
	}
	return v, nil
}

func (s *Store) ReserveVersion(ctx context.Context, r core.Reservation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO load_batches (id, scope, version, table_name, source_id, source_file, checksum, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pgUUID(r.BatchID), r.Scope, r.Version, r.Table, r.SourceID, r.SourceFile, r.Checksum,
		string(core.BatchPending), r.StartedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return core.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("inserting ledger row: %w", err)
	}
	return nil
}

func (s *Store) FinishBatch(ctx context.Context, id uuid.UUID, status core.BatchStatus, message string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE load_batches SET status = $1, error = $2, finished_at = now() WHERE id = $3",
		string(status), message, pgUUID(id))
	if err != nil {
		return fmt.Errorf("updating ledger row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrBatchNotFound
	}
	return nil
}

const batchColumns = `id, scope, version, table_name, source_id, source_file, checksum,
	status, rows_loaded, error, started_at, loaded_at, finished_at`

func scanBatch(row pgx.Row) (*core.Batch, error) {
	var (
		b      core.Batch
		id     pgtype.UUID
		status string
	)
	if err := row.Scan(&id, &b.Scope, &b.Version, &b.Table, &b.SourceID, &b.SourceFile, &b.Checksum,
		&status, &b.RowsLoaded, &b.Error, &b.StartedAt, &b.LoadedAt, &b.FinishedAt); err != nil {
		return nil, err
	}
	b.ID = uuid.UUID(id.Bytes)
	b.Status = core.BatchStatus(status)
	return &b, nil
}

func (s *Store) FindCommitted(ctx context.Context, table, checksum string) (*core.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `
		SELECT `+batchColumns+` FROM load_batches
		WHERE table_name = $1 AND checksum = $2 AND status = $3
		ORDER BY version DESC LIMIT 1`,
		table, checksum, string(core.BatchCommitted)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrBatchNotFound
	}
	return b, err
}

func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*core.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, "SELECT "+batchColumns+" FROM load_batches WHERE id = $1", pgUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrBatchNotFound
	}
	return b, err
}

func (s *Store) ListBatches(ctx context.Context, f core.BatchFilter) ([]core.Batch, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Table != "" {
		add("table_name = $%d", f.Table)
	}
	if f.Scope != "" {
		add("scope = $%d", f.Scope)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := "SELECT " + batchColumns + " FROM load_batches"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, version DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var out []core.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) RollbackBatch(ctx context.Context, id uuid.UUID) (int64, error) {
	var deleted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var table, status string
		err := tx.QueryRow(ctx,
			"SELECT table_name, status FROM load_batches WHERE id = $1 FOR UPDATE", pgUUID(id)).
			Scan(&table, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrBatchNotFound
		}
		if err != nil {
			return err
		}
		switch core.BatchStatus(status) {
		case core.BatchCommitted:
		case core.BatchRolledBack:
			return core.ErrAlreadyRolledBack
		default:
			return core.ErrBatchNotCommitted
		}

		tag, err := tx.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = $1", pgx.Identifier{table}.Sanitize(), schema.ColLoadID),
			pgUUID(id))
		if err != nil {
			return fmt.Errorf("deleting rows: %w", err)
		}
		deleted = tag.RowsAffected()

		_, err = tx.Exec(ctx,
			"UPDATE load_batches SET status = $1, finished_at = now() WHERE id = $2",
			string(core.BatchRolledBack), pgUUID(id))
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &batchTx{tx: tx}, nil
}

type batchTx struct {
	tx pgx.Tx
}

func (t *batchTx) InsertRecords(ctx context.Context, table string, batchID uuid.UUID, fields []string, records []core.CanonicalRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	cols := make([]string, 0, len(fields)+len(schema.MetadataColumns))
	cols = append(cols, fields...)
	cols = append(cols, schema.MetadataColumns...)

	loadID := pgUUID(batchID)
	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, 0, len(cols))
		row = append(row, rec.Values(fields)...)
		row = append(row, rec.LoadedAt, rec.SourceFile, rec.Version, loadID)
		rows[i] = row
	}

	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{table}, cols, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

func (t *batchTx) CompleteBatch(ctx context.Context, id uuid.UUID, rows int64, loadedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE load_batches SET status = $1, rows_loaded = $2, loaded_at = $3, finished_at = now()
		WHERE id = $4 AND status = $5`,
		string(core.BatchCommitted), rows, loadedAt, pgUUID(id), string(core.BatchPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s is not pending", id)
	}
	return nil
}

func (t *batchTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *batchTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}
