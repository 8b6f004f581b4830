package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/storage/sqlite"
)

const providersMap = `
table: child_care_info
sources:
  county:
    match: ["*county*.csv"]
    columns:
      - {canonicalField: company, sourceColumn: Name}
      - {canonicalField: license_number, sourceColumn: License, transforms: [digits]}
      - {canonicalField: address1, sourceColumn: Street}
      - {canonicalField: city, sourceColumn: City}
      - {canonicalField: state, sourceColumn: State, transforms: [us_state]}
      - {canonicalField: zip, sourceColumn: Zip}
      - {canonicalField: phone, sourceColumn: Phone, transforms: [digits]}
      - {canonicalField: capacity, sourceColumn: Cap}
      - {canonicalField: source, value: county}
`

const countyCSV = `Name,License,Street,City,State,Zip,Phone,Cap
Little Sprouts,L-1001,1 Elm St,Fresno,California,93701,(559) 555-0100,24
Happy Days,L-1002,2 Oak Ave,Clovis,CA,93611,559.555.0101,
`

type cliEnv struct {
	dir string
	cfg *config.Config
}

func setup(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "map.yaml")
	require.NoError(t, os.WriteFile(mapPath, []byte(providersMap), 0o644))

	return &cliEnv{
		dir: dir,
		cfg: &config.Config{
			Storage: config.StorageConfig{
				Driver:     config.DriverSQLite,
				SQLitePath: filepath.Join(dir, "csvload.db"),
			},
			Load: config.LoadConfig{
				ColumnMap:     mapPath,
				VersionScope:  "table",
				MaxConcurrent: 2,
				MaxWaitTime:   time.Second,
				BatchSize:     100,
				MaxFileSize:   1 << 20,
			},
		},
	}
}

func (e *cliEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *cliEnv) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), e.cfg, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (e *cliEnv) batches(t *testing.T, status core.BatchStatus) []core.Batch {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, e.cfg.Storage.SQLitePath)
	require.NoError(t, err)
	defer store.Close()
	out, err := store.ListBatches(ctx, core.BatchFilter{Status: status, Limit: 10})
	require.NoError(t, err)
	return out
}

func TestLoad_VersionsAndRollback(t *testing.T) {
	env := setup(t)
	file := env.write(t, "county_june.csv", countyCSV)

	code, out, stderr := env.run(t, "load", file)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "version=1 rows=2")
	assert.Contains(t, out, "1 files: 1 committed, 0 skipped, 0 failed")

	code, out, _ = env.run(t, "load", file)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "version=2 rows=2")

	// Identical contents are skipped when asked.
	code, out, _ = env.run(t, "load", "--skip-loaded", file)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "SKIP")

	committed := env.batches(t, core.BatchCommitted)
	require.Len(t, committed, 2)
	assert.Equal(t, int64(2), committed[0].Version)

	code, out, _ = env.run(t, "batches", "--status", "committed")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, committed[0].ID.String())
	assert.Contains(t, out, "child_care_info")

	code, out, _ = env.run(t, "rollback", committed[0].ID.String())
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "2 rows deleted")

	code, _, stderr = env.run(t, "rollback", committed[0].ID.String())
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, "BAT002")

	assert.Len(t, env.batches(t, core.BatchCommitted), 1)
}

func TestLoad_DryRunWritesNothing(t *testing.T) {
	env := setup(t)
	file := env.write(t, "county_june.csv", countyCSV)

	code, out, stderr := env.run(t, "load", "--dry-run", file)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "dry run")

	_, err := os.Stat(env.cfg.Storage.SQLitePath)
	assert.True(t, os.IsNotExist(err), "dry run created %s", env.cfg.Storage.SQLitePath)
}

func TestLoad_Directory(t *testing.T) {
	env := setup(t)
	inbox := filepath.Join(env.dir, "inbox")
	require.NoError(t, os.Mkdir(inbox, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "county_a.csv"), []byte(countyCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "county_b.csv"), []byte(countyCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("skip me"), 0o644))

	code, out, stderr := env.run(t, "load", "--workers", "2", inbox)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "2 files: 2 committed")
	assert.Len(t, env.batches(t, core.BatchCommitted), 2)
}

func TestLoad_Failures(t *testing.T) {
	env := setup(t)
	good := env.write(t, "county_good.csv", countyCSV)
	bad := env.write(t, "county_bad.csv", "Name,License,Street,City,State,Zip,Phone,Cap\nX,L-1,1 St,A,CA,1,5,lots\n")
	missing := filepath.Join(env.dir, "county_missing.csv")

	code, out, _ := env.run(t, "load", good, bad, missing)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, out, "3 files: 1 committed, 0 skipped, 2 failed")
	assert.Contains(t, out, "FILE002")

	assert.Contains(t, out, "ROW004")

	// A file that fails normalization never reserves a version.
	assert.Empty(t, env.batches(t, core.BatchFailed))
	committed := env.batches(t, core.BatchCommitted)
	require.Len(t, committed, 1)
	assert.Equal(t, int64(1), committed[0].Version)
}

func TestUsageErrors(t *testing.T) {
	env := setup(t)
	file := env.write(t, "county_june.csv", countyCSV)
	badMap := env.write(t, "bad.yaml", "sources:\n  county:\n    columns:\n      - {canonicalField: nope, sourceColumn: X}\n")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"explode"}},
		{"load without paths", []string{"load"}},
		{"bad map", []string{"load", "--map", badMap, file}},
		{"bad scope", []string{"load", "--scope", "planet", file}},
		{"bad workers", []string{"load", "--workers", "0", file}},
		{"bad status", []string{"batches", "--status", "done"}},
		{"bad batch id", []string{"rollback", "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := env.run(t, tt.args...)
			assert.Equal(t, exitUsage, code, stderr)
			assert.True(t, strings.HasPrefix(stderr, "error:"), stderr)
		})
	}
}

func TestWithoutDatabase(t *testing.T) {
	env := setup(t)
	env.cfg.Storage = config.StorageConfig{Driver: config.DriverPostgres}
	file := env.write(t, "county_june.csv", countyCSV)

	code, out, stderr := env.run(t, "load", "--dry-run", file)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "1 committed")

	code, _, stderr = env.run(t, "check-map")
	assert.Equal(t, exitOK, code, stderr)

	code, _, stderr = env.run(t, "batches")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "DATABASE_URL")
}

func TestCheckMap_Shipped(t *testing.T) {
	env := setup(t)
	code, out, stderr := env.run(t, "check-map", "--map", filepath.Join("..", "..", "configs", "column_map.yaml"))
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "table child_care_info")
	for _, id := range []string{"source1", "source2", "source3"} {
		assert.Contains(t, out, id)
	}
}

func TestMigrate(t *testing.T) {
	env := setup(t)
	code, out, stderr := env.run(t, "migrate")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "migrated child_care_info (sqlite)")
}
