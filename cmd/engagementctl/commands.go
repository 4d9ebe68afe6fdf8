package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/engagement-core/internal/application/command"
	"github.com/alem-hub/engagement-core/internal/bootstrap"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/postgres"
)

var errNoDatabase = errors.New("migrations need APP_STORAGE=postgres")

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error {
					applied, err := m.Migrate(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error {
					migrations, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
					for _, mg := range migrations {
						applied := "pending"
						if mg.IsApplied {
							applied = mg.AppliedAt.Format(time.RFC3339)
						}
						fmt.Fprintf(tw, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error {
					if err := m.Rollback(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back 1 migration")
					return nil
				})
			},
		},
	)
	return migrateCmd
}

func withMigrator(cmd *cobra.Command, fn func(*postgres.Migrator) error) error {
	return withContainer(cmd, bootstrap.Options{SkipMigrations: true}, func(app *bootstrap.Container) error {
		if app.DB == nil {
			return errNoDatabase
		}
		return fn(postgres.NewMigrator(app.DB))
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

func newReapStaleCmd() *cobra.Command {
	var (
		threshold time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "reap-stale",
		Short: "End active sessions that stopped sending heartbeats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, bootstrap.Options{}, func(app *bootstrap.Container) error {
				result, err := app.SessionManager.ReapStale(cmd.Context(), command.ReapStaleCommand{
					Threshold: threshold,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d reaped=%d skipped=%d failed=%d\n",
					result.Scanned, result.Reaped, result.Skipped, result.Failed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 0, "silence after which a session is abandoned (default from SESSION_STALE_THRESHOLD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions to scan, 0 for all")
	return cmd
}

func newRepairSessionsCmd() *cobra.Command {
	var (
		bound time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "repair-sessions",
		Short: "Rewrite ended sessions whose span exceeds the plausibility bound",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, bootstrap.Options{}, func(app *bootstrap.Container) error {
				result, err := app.Repair.Handle(cmd.Context(), command.RepairSessionsCommand{
					Bound: bound,
					Limit: limit,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d repaired=%d failed=%d\n",
					result.Scanned, result.Repaired, result.Failed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&bound, "bound", 0, "plausibility bound (default from RECONSTRUCT_PLAUSIBILITY_BOUND)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions to repair, 0 for all")
	return cmd
}

func newRecomputeProgressCmd() *cobra.Command {
	var (
		batchSize   int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "recompute-progress",
		Short: "Re-derive every course assignment from content progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if concurrency < 0 || batchSize < 0 {
				return errors.New("batch-size and concurrency must not be negative")
			}
			return withContainer(cmd, bootstrap.Options{}, func(app *bootstrap.Container) error {
				result, err := app.Aggregator.RecomputeAll(cmd.Context(), command.RecomputeAllCommand{
					At:          app.Clock.Now(),
					BatchSize:   batchSize,
					Concurrency: concurrency,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed=%d completed=%d failed=%d\n",
					result.Processed, result.Completed, result.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "assignments per page")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "parallel recomputations")
	return cmd
}
