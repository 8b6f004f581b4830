// Package sqlite is the embedded storage collaborator, built on
// database/sql and the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/schema"
	"github.com/JonMunkholm/csvload/internal/storage/sqlite/migrations"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// maxVariables is SQLite's default limit on bound parameters per statement.
const maxVariables = 32766

// Store implements core.Store on a single SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

var _ core.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the ledger
// migrations. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// WAL lets readers proceed during a load; busy_timeout waits out other
	// processes holding the write lock.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers in this process and keeps
	// ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
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
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, formatTime(time.Now())); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Migrate creates the target table for sc.
func (s *Store) Migrate(ctx context.Context, sc *schema.Schema) error {
	for _, stmt := range sc.CreateTableSQL(schema.SQLite) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating table %s: %w", sc.Table, err)
		}
	}
	return nil
}

func (s *Store) CurrentMaxVersion(ctx context.Context, scope string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM load_batches WHERE scope = ?", scope).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading max version: %w", err)
	}
	return v, nil
}

func (s *Store) ReserveVersion(ctx context.Context, r core.Reservation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_batches (id, scope, version, table_name, source_id, source_file, checksum, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID.String(), r.Scope, r.Version, r.Table, r.SourceID, r.SourceFile, r.Checksum,
		string(core.BatchPending), formatTime(r.StartedAt))
	if isUniqueViolation(err) {
		return core.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("inserting ledger row: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) FinishBatch(ctx context.Context, id uuid.UUID, status core.BatchStatus, message string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE load_batches SET status = ?, error = ?, finished_at = ? WHERE id = ?",
		string(status), message, formatTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("updating ledger row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrBatchNotFound
	}
	return nil
}

const batchColumns = `id, scope, version, table_name, source_id, source_file, checksum,
	status, rows_loaded, error, started_at, loaded_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*core.Batch, error) {
	var (
		b                   core.Batch
		id, status, started string
		loaded, finished    sql.NullString
	)
	if err := row.Scan(&id, &b.Scope, &b.Version, &b.Table, &b.SourceID, &b.SourceFile, &b.Checksum,
		&status, &b.RowsLoaded, &b.Error, &started, &loaded, &finished); err != nil {
		return nil, err
	}

	var err error
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("ledger id %q: %w", id, err)
	}
	b.Status = core.BatchStatus(status)
	if b.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if b.LoadedAt, err = parseNullTime(loaded); err != nil {
		return nil, err
	}
	if b.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) FindCommitted(ctx context.Context, table, checksum string) (*core.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM load_batches
		WHERE table_name = ? AND checksum = ? AND status = ?
		ORDER BY version DESC LIMIT 1`,
		table, checksum, string(core.BatchCommitted))
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrBatchNotFound
	}
	return b, err
}

func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*core.Batch, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM load_batches WHERE id = ?", id.String())
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrBatchNotFound
	}
	return b, err
}

func (s *Store) ListBatches(ctx context.Context, f core.BatchFilter) ([]core.Batch, error) {
	var (
		where []string
		args  []any
	)
	if f.Table != "" {
		where = append(where, "table_name = ?")
		args = append(args, f.Table)
	}
	if f.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, f.Scope)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := "SELECT " + batchColumns + " FROM load_batches"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, version DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var table, status string
	err = tx.QueryRowContext(ctx, "SELECT table_name, status FROM load_batches WHERE id = ?", id.String()).Scan(&table, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrBatchNotFound
	}
	if err != nil {
		return 0, err
	}
	switch core.BatchStatus(status) {
	case core.BatchCommitted:
	case core.BatchRolledBack:
		return 0, core.ErrAlreadyRolledBack
	default:
		return 0, core.ErrBatchNotCommitted
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(table), schema.ColLoadID), id.String())
	if err != nil {
		return 0, fmt.Errorf("deleting rows: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		"UPDATE load_batches SET status = ?, finished_at = ? WHERE id = ?",
		string(core.BatchRolledBack), formatTime(time.Now()), id.String()); err != nil {
		return 0, fmt.Errorf("updating ledger row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &batchTx{tx: tx}, nil
}

type batchTx struct {
	tx *sql.Tx
}

func (t *batchTx) InsertRecords(ctx context.Context, table string, batchID uuid.UUID, fields []string, records []core.CanonicalRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	cols := make([]string, 0, len(fields)+len(schema.MetadataColumns))
	for _, f := range fields {
		cols = append(cols, quote(f))
	}
	for _, c := range schema.MetadataColumns {
		cols = append(cols, quote(c))
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	perStmt := max(1, maxVariables/len(cols))

	var total int64
	for start := 0; start < len(records); start += perStmt {
		chunk := records[start:min(start+perStmt, len(records))]

		args := make([]any, 0, len(chunk)*len(cols))
		for _, rec := range chunk {
			for _, f := range fields {
				v, err := toSQLite(rec.Fields[f])
				if err != nil {
					return total, fmt.Errorf("field %s: %w", f, err)
				}
				args = append(args, v)
			}
			args = append(args, formatTime(rec.LoadedAt), rec.SourceFile, rec.Version, batchID.String())
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			quote(table), strings.Join(cols, ", "),
			strings.TrimSuffix(strings.Repeat(placeholder+",", len(chunk)), ","))
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("inserting into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (t *batchTx) CompleteBatch(ctx context.Context, id uuid.UUID, rows int64, loadedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE load_batches SET status = ?, rows_loaded = ?, loaded_at = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		string(core.BatchCommitted), rows, formatTime(loadedAt), formatTime(time.Now()),
		id.String(), string(core.BatchPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s is not pending", id)
	}
	return nil
}

func (t *batchTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *batchTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// toSQLite converts a canonical pgtype value to a driver value. Decimals are
// stored as text to keep their scale; dates as ISO-8601 text.
func toSQLite(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case pgtype.Text:
		if !v.Valid {
			return nil, nil
		}
		return v.String, nil
	case pgtype.Int8:
		if !v.Valid {
			return nil, nil
		}
		return v.Int64, nil
	case pgtype.Numeric:
		if !v.Valid {
			return nil, nil
		}
		return v.Value()
	case pgtype.Date:
		if !v.Valid {
			return nil, nil
		}
		return v.Time.Format("2006-01-02"), nil
	case pgtype.Bool:
		if !v.Valid {
			return nil, nil
		}
		if v.Bool {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
