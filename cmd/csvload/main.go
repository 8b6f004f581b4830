package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvload/internal/cli"
	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/logging"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	envLoaded := godotenv.Overload() == nil

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(2)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded",
		"env_file", envLoaded,
		"storage", cfg.Storage.Driver,
		"column_map", cfg.Load.ColumnMap,
		"max_concurrent", cfg.Load.MaxConcurrent,
	)

	os.Exit(cli.Execute(context.Background(), cfg, os.Args[1:], os.Stdout, os.Stderr))
}
