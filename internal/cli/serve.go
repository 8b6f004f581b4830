package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/logging"
	"github.com/JonMunkholm/csvload/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	opts := a.defaultServiceOptions()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the batch API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.mapPath, "map", opts.mapPath, "Column-map file")
	cmd.Flags().StringVar(&opts.scope, "scope", opts.scope, "Version scope: table, source or global")
	return cmd
}

func runServe(ctx context.Context, a *app, opts serviceOptions) error {
	log := logging.FromContext(ctx)

	svc, closeStore, err := a.service(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := svc.Migrate(ctx); err != nil {
		return withCode(exitFailed, err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := web.NewServer(svc, a.cfg)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", a.cfg.Server.Addr(), "storage", a.cfg.Storage.Driver)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return withCode(exitFailed, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("server shutdown", "error", err)
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), core.DefaultShutdownWait)
	defer cancelWait()
	if err := svc.WaitForLoads(waitCtx); err != nil {
		log.Warn("loads still running at exit", "active", svc.LimiterStatus().Active)
	}
	log.Info("server stopped")
	return nil
}
