// Package main provides the entry point for the geoseq CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/geoseq/internal/bootstrap"
	"github.com/maauso/geoseq/internal/config"
)

// version is stamped into every description as provenance. Overridden at
// build time with -ldflags "-X main.version=...".
var version = "0.1.0"

const usage = `usage: geoseq <command> [flags]

commands:
  process        assemble image descriptions under an import path
  sample_video   sample frames from videos and stamp their capture times
  archive        pack described images into an upload archive
  upload         upload an archive and create a cluster

Run "geoseq <command> -h" for the flags of a command.
`

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, err := parseCommand(args[0], args[1:])
	if err != nil {
		return err
	}
	if err := cmd.checkPaths(); err != nil {
		return err
	}

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cmd.applyConfig(cfg)
	if cmd.needsUpload {
		if err := cfg.RequireUpload(); err != nil {
			return err
		}
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	deps, err := bootstrap.NewDependencies(cfg, logger, cmd.root, version)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			deps.Logger.Warn("failed to close process log", slog.String("error", err.Error()))
		}
	}()

	// SIGINT and SIGTERM stop the stage between files or chunks.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps.Logger.Debug("running command",
		slog.String("command", cmd.name),
		slog.String("version", version),
		slog.String("config", cfg.String()),
	)

	result, err := cmd.exec(ctx, deps.Orchestrator)
	if result != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil && err == nil {
			err = fmt.Errorf("write result: %w", encErr)
		}
	}
	return err
}
