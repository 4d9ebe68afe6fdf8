// Package main is the operator CLI of the engagement core.
//
// Usage:
//
//	engagementctl migrate up|status|rollback
//	engagementctl reap-stale --threshold 2h --limit 500
//	engagementctl repair-sessions --bound 30m
//	engagementctl recompute-progress --concurrency 8
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alem-hub/engagement-core/config"
	"github.com/alem-hub/engagement-core/internal/bootstrap"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

var (
	rootCmd = &cobra.Command{
		Use:           "engagementctl",
		Short:         "Maintenance commands for the engagement core",
		Long:          `Runs schema migrations and one-off maintenance passes against the configured storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	storageOverride string
	logLevel        string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storageOverride, "storage", "", "override APP_STORAGE (postgres or memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newReapStaleCmd(),
		newRepairSessionsCmd(),
		newRecomputeProgressCmd(),
	)
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if storageOverride != "" {
		cfg.App.Storage = storageOverride
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	return cfg, nil
}

// withContainer builds the container, runs fn and releases it.
func withContainer(cmd *cobra.Command, opts bootstrap.Options, fn func(*bootstrap.Container) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := bootstrap.NewLogger(cfg).With(logger.String("command", cmd.Name()))
	defer func() { _ = log.Sync() }()

	app, err := bootstrap.New(cmd.Context(), cfg, log, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}
