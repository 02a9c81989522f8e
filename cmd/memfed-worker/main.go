// Package main provides a standalone ingestion worker, for deployments
// that run workers separately from the CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/memfed/internal/cli"
	"github.com/raphaelgruber/memfed/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	defer closeLog()

	if err := cli.RunWorker(context.Background(), cfg); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
