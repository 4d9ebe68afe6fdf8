// Package main is the entry point of the engagement worker.
//
// The worker runs the periodic maintenance of the engagement core:
//   - reap_stale closes sessions whose client stopped sending heartbeats
//   - repair_sessions rewrites closed sessions with implausible spans
//   - recompute_progress re-derives every course assignment
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alem-hub/engagement-core/config"
	"github.com/alem-hub/engagement-core/internal/bootstrap"
	"github.com/alem-hub/engagement-core/internal/infrastructure/scheduler"
	"github.com/alem-hub/engagement-core/internal/infrastructure/scheduler/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled (SCHEDULER_ENABLED=false)")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting engagement worker",
		"env", cfg.App.Environment,
		"storage", cfg.App.Storage,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE AND APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	appLog := bootstrap.NewLogger(cfg)
	defer func() { _ = appLog.Sync() }()

	app, err := bootstrap.New(ctx, cfg, appLog, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections")
		app.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log.With("component", "scheduler")
	schedConfig.JobTimeout = cfg.Scheduler.JobTimeout
	sched := scheduler.NewScheduler(schedConfig)

	if err := registerJobs(sched, app, cfg, log); err != nil {
		return err
	}
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			log.Warn("job failed", "job", r.JobName, "error", r.Error, "duration", r.Duration.String())
		}
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if cfg.Scheduler.RunOnStart {
		catchUp(ctx, sched, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	names := make([]string, 0, 3)
	for _, info := range sched.ListJobs() {
		names = append(names, info.Name)
	}
	log.Info("engagement worker is running", "jobs", strings.Join(names, ","))

	<-ctx.Done()
	log.Info("received shutdown signal, waiting for running jobs")

	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler", "error", err)
		return err
	}
	for _, info := range sched.ListJobs() {
		log.Info("job summary", "job", info.Name, "runs", info.RunCount, "failures", info.FailCount)
	}
	log.Info("shutdown completed successfully")
	return nil
}

// registerJobs adds the maintenance jobs. A zero recompute interval leaves
// the backfill to the CLI.
func registerJobs(sched *scheduler.Scheduler, app *bootstrap.Container, cfg *config.Config, log *slog.Logger) error {
	reap := jobs.NewReapStaleJob(app.SessionManager, jobs.ReapStaleConfig{
		Threshold: cfg.Session.StaleThreshold,
		BatchSize: cfg.Session.ReapBatchSize,
	}, log.With("job", "reap_stale"))
	if err := sched.Register(reap, scheduler.NewIntervalSchedule(cfg.Scheduler.ReapStaleInterval)); err != nil {
		return err
	}

	repair := jobs.NewRepairSessionsJob(app.Repair, cfg.Reconstruct.RepairBatchSize, log.With("job", "repair_sessions"))
	if err := sched.Register(repair, scheduler.NewIntervalSchedule(cfg.Scheduler.RepairSessionsInterval)); err != nil {
		return err
	}

	if cfg.Scheduler.RecomputeProgressInterval > 0 {
		recompute := jobs.NewRecomputeProgressJob(app.Aggregator, cfg.Session.ReapConcurrency, log.With("job", "recompute_progress"))
		if err := sched.Register(recompute, scheduler.NewIntervalSchedule(cfg.Scheduler.RecomputeProgressInterval)); err != nil {
			return err
		}
	}
	return nil
}

// catchUp runs the session maintenance jobs once, so sessions abandoned while
// the worker was down do not wait a full interval.
func catchUp(ctx context.Context, sched *scheduler.Scheduler, log *slog.Logger) {
	for _, name := range []string{"reap_stale", "repair_sessions"} {
		if ctx.Err() != nil {
			return
		}
		if _, err := sched.RunNow(ctx, name); err != nil {
			log.Warn("catch-up run failed", "job", name, "error", err)
		}
	}
}

// setupLogger configures slog for the scheduler.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch strings.ToLower(cfg.Observability.LogLevel) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
