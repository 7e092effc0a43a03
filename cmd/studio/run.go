// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/schemastudio/studio/internal/config"
	"github.com/schemastudio/studio/internal/logging"
	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/internal/plugin"
	"github.com/schemastudio/studio/internal/runtime"
	"github.com/schemastudio/studio/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(deps *RunDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load plugins and run the plugin host",
		Long: `Load every plugin below the plugins directory, activate eager plugins
and those waiting for onStartup, and keep the runtime alive until SIGINT or
SIGTERM. SIGHUP retries plugins that failed to activate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
}

// runWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *RunDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault("studio", version, cfg.Log.Format, level)

	if cfg.Storage.Driver == config.StoragePostgres && cfg.Storage.AutoMigrate {
		if err := autoMigrate(deps, cfg.Storage.DatabaseURL, logger); err != nil {
			return err
		}
	}

	store, closeStore, err := deps.StoreFactory(ctx, cfg.Storage)
	if err != nil {
		return oops.Code("STORAGE_OPEN_FAILED").With("driver", cfg.Storage.Driver).Wrap(err)
	}
	defer closeStore()

	enforcer, err := cfg.Enforcer()
	if err != nil {
		return err
	}

	registry := observability.NewRegistry()
	rt := runtime.New(
		runtime.WithLogger(logger),
		runtime.WithMetrics(observability.NewMetrics(registry)),
		runtime.WithTracer(otel.Tracer("github.com/schemastudio/studio")),
		runtime.WithEnforcer(enforcer),
		runtime.WithStore(store),
		runtime.WithTheme(cfg.Theme),
		runtime.WithPluginsDir(cfg.PluginsDir),
		runtime.WithDisabled(cfg.Disabled...),
		runtime.WithRetryPolicy(cfg.Retry.Base, cfg.Retry.Attempts),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			errutil.LogWarn(logger, "runtime shutdown incomplete", err)
		}
	}()

	if err := loadDocument(rt, cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, registry, ready.Load, pluginStatus(rt))
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}
	ready.Store(true)

	active, failed := countStatuses(rt)
	cmd.Printf("Studio runtime started: %d plugins, %d active, %d failed\n", len(rt.Registry().List()), active, failed)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for running := true; running; {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				retryFailed(ctx, rt, logger)
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			running = false
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			running = false
		}
	}

	ready.Store(false)
	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func autoMigrate(deps *RunDeps, databaseURL string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	logger.Info("storage migrations applied")
	return nil
}

// loadDocument applies the configured document schema and initial document.
func loadDocument(rt *runtime.Runtime, cfg *config.Config) error {
	if cfg.Schema != "" {
		data, err := os.ReadFile(cfg.Schema)
		if err != nil {
			return oops.Code("SCHEMA_UNREADABLE").With("path", cfg.Schema).Wrap(err)
		}
		if err := rt.Document().SetSchema(data); err != nil {
			return err
		}
	}
	if cfg.Document != "" {
		data, err := os.ReadFile(cfg.Document)
		if err != nil {
			return oops.Code("DOCUMENT_UNREADABLE").With("path", cfg.Document).Wrap(err)
		}
		if err := rt.Document().Load(cfg.Document, data); err != nil {
			return err
		}
	}
	return nil
}

func retryFailed(ctx context.Context, rt *runtime.Runtime, logger *slog.Logger) {
	recovered, err := rt.RetryFailed(ctx)
	if len(recovered) > 0 {
		logger.Info("plugins recovered", "plugins", recovered)
	}
	if err != nil {
		errutil.LogWarn(logger, "plugins still failing", err)
	}
}

// pluginStatus reports each registered plugin's status for /healthz/plugins.
func pluginStatus(rt *runtime.Runtime) observability.StatusFunc {
	return func() map[string]string {
		plugins := rt.Registry().List()
		out := make(map[string]string, len(plugins))
		for _, p := range plugins {
			out[p.Manifest.ID] = string(p.Status)
		}
		return out
	}
}

func countStatuses(rt *runtime.Runtime) (active, failed int) {
	for _, p := range rt.Registry().List() {
		switch p.Status {
		case plugin.StatusActive:
			active++
		case plugin.StatusError:
			failed++
		}
	}
	return active, failed
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
