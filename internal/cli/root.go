// Package cli is the csvload command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvload/internal/colmap"
	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/schema"
	"github.com/JonMunkholm/csvload/internal/storage/memory"
	"github.com/JonMunkholm/csvload/internal/storage/postgres"
	"github.com/JonMunkholm/csvload/internal/storage/sqlite"
)

// Process exit codes.
const (
	exitOK     = 0
	exitFailed = 1 // at least one file or operation failed
	exitUsage  = 2 // bad flags, configuration or column map
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// app carries what every command needs.
type app struct {
	cfg *config.Config
	out io.Writer
}

// Execute runs the command line in args and returns the process exit code.
func Execute(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(&app{cfg: cfg, out: stdout})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(stderr, "error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		if msg := core.MapError(ee.err); msg.Code != "" && msg.Code != "ERR000" {
			fmt.Fprintf(stderr, "  %s (%s): %s\n", msg.Message, msg.Code, msg.Action)
		}
		return ee.code
	}
	// Anything cobra reports itself is a usage problem.
	return exitUsage
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "csvload",
		Short:         "Normalize CSV files through column maps and load them as versioned batches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLoadCmd(a),
		newCheckMapCmd(a),
		newMigrateCmd(a),
		newBatchesCmd(a),
		newRollbackCmd(a),
		newServeCmd(a),
	)
	return root
}

// registry loads the column map against the provider schema. Failures are
// usage errors.
func (a *app) registry(path, table string) (*colmap.Registry, error) {
	reg, err := colmap.Load(path, schema.ChildCare(), colmap.WithTable(table))
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return reg, nil
}

// openStore opens the configured backend, or an in-process store for dry
// runs.
func (a *app) openStore(ctx context.Context, dryRun bool) (core.Store, error) {
	if dryRun {
		return memory.New(), nil
	}
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, withCode(exitUsage, err)
	}
	var (
		store core.Store
		err   error
	)
	switch strings.ToLower(a.cfg.Storage.Driver) {
	case config.DriverSQLite:
		store, err = sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
	case config.DriverPostgres:
		store, err = postgres.Open(ctx, a.cfg.Database)
	default:
		return nil, withCode(exitUsage, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver))
	}
	if err != nil {
		return nil, withCode(exitFailed, &core.StorageError{Op: "open", Err: err})
	}
	return store, nil
}

type serviceOptions struct {
	mapPath    string
	table      string
	scope      string
	skipLoaded bool
	dryRun     bool
}

func (a *app) defaultServiceOptions() serviceOptions {
	return serviceOptions{
		mapPath:    a.cfg.Load.ColumnMap,
		table:      a.cfg.Load.Table,
		scope:      a.cfg.Load.VersionScope,
		skipLoaded: a.cfg.Load.SkipLoaded,
	}
}

// service wires registry, store, loader and limiter. The returned close
// function releases the store.
func (a *app) service(ctx context.Context, o serviceOptions) (*core.Service, func(), error) {
	scope := core.ScopeMode(strings.ToLower(o.scope))
	switch scope {
	case core.ScopeTable, core.ScopeSource, core.ScopeGlobal:
	default:
		return nil, nil, withCode(exitUsage, fmt.Errorf("unknown version scope %q (want table, source or global)", o.scope))
	}

	reg, err := a.registry(o.mapPath, o.table)
	if err != nil {
		return nil, nil, err
	}
	store, err := a.openStore(ctx, o.dryRun)
	if err != nil {
		return nil, nil, err
	}

	loader := core.NewLoader(reg, store, core.LoaderConfig{
		Scope:          scope,
		BatchSize:      a.cfg.Load.BatchSize,
		MaxFileSize:    a.cfg.Load.MaxFileSize,
		Timeout:        a.cfg.Load.Timeout,
		SkipLoaded:     o.skipLoaded,
		VersionRetries: a.cfg.Load.VersionRetries,
	})
	svc := core.NewService(loader, core.NewLoadLimiter(a.cfg.Load.MaxConcurrent, a.cfg.Load.MaxWaitTime))
	return svc, func() { store.Close() }, nil
}
