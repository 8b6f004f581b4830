package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	opts := a.defaultServiceOptions()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the batch ledger and the target table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, closeStore, err := a.service(ctx, opts)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := svc.Migrate(ctx); err != nil {
				return withCode(exitFailed, err)
			}
			fmt.Fprintf(a.out, "migrated %s (%s)\n", svc.Registry().Schema().Table, a.cfg.Storage.Driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.mapPath, "map", opts.mapPath, "Column-map file")
	cmd.Flags().StringVar(&opts.table, "table", opts.table, "Target table (default: from the column map)")
	return cmd
}

// newCheckMapCmd validates a column map without touching storage.
func newCheckMapCmd(a *app) *cobra.Command {
	var (
		mapPath = a.cfg.Load.ColumnMap
		table   = a.cfg.Load.Table
	)

	cmd := &cobra.Command{
		Use:   "check-map",
		Short: "Validate a column map and list its sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.registry(mapPath, table)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: table %s\n", mapPath, reg.Schema().Table)
			for _, id := range reg.Sources() {
				cm, err := reg.Resolve(id)
				if err != nil {
					return withCode(exitFailed, err)
				}
				fmt.Fprintf(a.out, "  %-16s %d fields\n", id, len(cm.Entries))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mapPath, "map", mapPath, "Column-map file")
	cmd.Flags().StringVar(&table, "table", table, "Target table (default: from the column map)")
	return cmd
}
