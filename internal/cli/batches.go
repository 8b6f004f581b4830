package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvload/internal/core"
)

type batchesOptions struct {
	limit  int
	status string
	table  string
	scope  string
}

func newBatchesCmd(a *app) *cobra.Command {
	var opts batchesOptions

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List load batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, ok := core.ParseBatchStatus(opts.status)
			if !ok {
				return withCode(exitUsage, fmt.Errorf("unknown status %q (want pending, committed, failed or rolled_back)", opts.status))
			}
			if opts.limit <= 0 {
				return withCode(exitUsage, fmt.Errorf("--limit must be positive"))
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer store.Close()

			batches, err := store.ListBatches(ctx, core.BatchFilter{
				Table:  opts.table,
				Scope:  opts.scope,
				Status: status,
				Limit:  opts.limit,
			})
			if err != nil {
				return withCode(exitFailed, err)
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTABLE\tSCOPE\tVERSION\tSTATUS\tROWS\tSOURCE\tFILE\tSTARTED")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
					b.ID, b.Table, b.Scope, b.Version, b.Status, b.RowsLoaded,
					b.SourceID, b.SourceFile, b.StartedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", core.DefaultBatchListLimit, "Maximum batches to list")
	cmd.Flags().StringVar(&opts.status, "status", "", "Only batches with this status")
	cmd.Flags().StringVar(&opts.table, "table", "", "Only batches for this table")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Only batches in this version scope")

	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <batch-id>",
		Short: "Delete the rows of a committed batch and mark it rolled back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseBatchID(args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer store.Close()

			// Rollback needs no column map.
			svc := core.NewService(core.NewLoader(nil, store, core.LoaderConfig{}), nil)
			res, err := svc.RollbackBatch(ctx, id)
			if err != nil {
				return withCode(exitFailed, err)
			}
			fmt.Fprintf(a.out, "rolled back batch %s: %s version %d, %d rows deleted\n",
				res.BatchID, res.Table, res.Version, res.RowsDeleted)
			return nil
		},
	}
}
