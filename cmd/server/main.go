// Package main is the entry point of the engagement API server: the session
// protocol used by players and readers, progress and minutes reports, and
// the operator maintenance endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/engagement-core/config"
	"github.com/alem-hub/engagement-core/internal/bootstrap"
	httpserver "github.com/alem-hub/engagement-core/internal/interface/http"
	"github.com/alem-hub/engagement-core/internal/interface/http/handlers"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting engagement server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("storage", cfg.App.Storage),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE AND APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. OPERATOR ACCESS
	// ─────────────────────────────────────────────────────────────────────────
	operatorAuth, err := handlers.NewOperatorAuth(cfg.Operator.KeyHash)
	switch {
	case errors.Is(err, handlers.ErrOperatorDisabled):
		log.Warn("OPERATOR_KEY_HASH is empty, maintenance endpoints are disabled")
	case err != nil:
		return fmt.Errorf("invalid OPERATOR_KEY_HASH: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.Config{
		Host:            cfg.HTTP.Host,
		Port:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		RateLimit:       cfg.HTTP.RateLimit,
		RateLimitBurst:  cfg.HTTP.RateLimitBurst,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		MetricsEnabled:  cfg.Observability.MetricsEnabled,
		MetricsPath:     cfg.Observability.MetricsPath,
		Version:         cfg.App.Version,
	}, httpserver.Dependencies{
		Sessions:     app.SessionManager,
		Repair:       app.Repair,
		Aggregator:   app.Aggregator,
		Minutes:      app.Minutes,
		Progress:     app.ProgressQuery,
		Stats:        app.Stats,
		Health:       app.HealthChecker(),
		OperatorAuth: operatorAuth,
		Logger:       log,
	})
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := bootstrap.ShutdownContext(cfg)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}
