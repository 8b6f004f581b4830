package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvload/internal/core"
)

type loadOptions struct {
	serviceOptions
	source  string
	workers int
}

func newLoadCmd(a *app) *cobra.Command {
	opts := loadOptions{serviceOptions: a.defaultServiceOptions()}

	cmd := &cobra.Command{
		Use:   "load [paths...]",
		Short: "Load CSV files or directories of CSV files",
		Long: `Load normalizes every row of each file through its column map and commits
the file as one versioned batch. A file with any bad row is not loaded at all.

Directories contribute their *.csv files (not recursive). Files are matched
to a column map by name unless --source is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), a, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Column map to use for every file (default: match by file name)")
	cmd.Flags().StringVar(&opts.mapPath, "map", opts.mapPath, "Column-map file (.yaml, .yml, .json, .toml)")
	cmd.Flags().StringVar(&opts.table, "table", opts.table, "Target table (default: from the column map)")
	cmd.Flags().StringVar(&opts.scope, "scope", opts.scope, "Version scope: table, source or global")
	cmd.Flags().IntVar(&opts.workers, "workers", a.cfg.Load.MaxConcurrent, "Files loaded in parallel")
	cmd.Flags().BoolVar(&opts.skipLoaded, "skip-loaded", opts.skipLoaded, "Skip files whose contents were already committed")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate and normalize without writing anything")

	return cmd
}

func runLoad(ctx context.Context, a *app, opts loadOptions, args []string) error {
	if opts.workers <= 0 {
		return withCode(exitUsage, fmt.Errorf("--workers must be positive"))
	}

	svc, closeStore, err := a.service(ctx, opts.serviceOptions)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := svc.Migrate(ctx); err != nil {
		return withCode(exitFailed, err)
	}

	files := discover(args)
	if len(files) == 0 {
		return withCode(exitUsage, fmt.Errorf("no CSV files found in %v", args))
	}

	results := svc.LoadAll(ctx, core.Specs(files, opts.source), opts.workers)

	var committed, skipped, failed int
	for _, res := range results {
		printResult(a, res)
		switch {
		case res.Failed():
			failed++
		case res.Phase == core.PhaseSkipped:
			skipped++
		default:
			committed++
		}
	}
	fmt.Fprintf(a.out, "%d files: %d committed, %d skipped, %d failed\n", len(results), committed, skipped, failed)
	if opts.dryRun {
		fmt.Fprintln(a.out, "dry run: nothing was written")
	}

	if failed > 0 {
		return withCode(exitFailed, fmt.Errorf("%d of %d files failed", failed, len(results)))
	}
	return nil
}

// discover expands each argument on its own. An argument that cannot be
// read is kept as a file so its load reports the error.
func discover(args []string) []string {
	var files []string
	for _, arg := range args {
		found, err := core.Discover([]string{arg})
		if err != nil {
			files = append(files, arg)
			continue
		}
		files = append(files, found...)
	}
	return files
}

func printResult(a *app, res core.LoadResult) {
	switch res.Phase {
	case core.PhaseFailed:
		fmt.Fprintf(a.out, "FAIL %s  %s  %s\n", res.FileID, res.Code, res.Error)
	case core.PhaseSkipped:
		fmt.Fprintf(a.out, "SKIP %s  source=%s table=%s already loaded as version %d\n",
			res.FileID, res.SourceID, res.Table, res.Version)
	default:
		fmt.Fprintf(a.out, "OK   %s  source=%s table=%s version=%d rows=%d blank=%d batch=%s\n",
			res.FileID, res.SourceID, res.Table, res.Version, res.RowsLoaded, res.RowsSkipped, res.BatchID)
	}
}
