// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/schemastudio/studio/internal/config"
	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/internal/storage"
)

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// StoreFactory opens the plugin storage backend. The returned function
	// releases it.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg config.StorageConfig) (storage.Store, func(), error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: storage.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, registry *prometheus.Registry, readinessChecker observability.ReadinessChecker, status observability.StatusFunc) ObservabilityServer
}

// AutoMigrator is the part of storage.Migrator used at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Migrator is the part of storage.Migrator used by the migrate command.
type Migrator interface {
	AutoMigrator
	Down() error
	Version() (version uint, dirty bool, err error)
	Pending() ([]uint, error)
}

// ObservabilityServer is the interface of observability.Server used here.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *RunDeps) withDefaults() *RunDeps {
	out := RunDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreFactory == nil {
		out.StoreFactory = openStore
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			return storage.NewMigrator(databaseURL)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, registry *prometheus.Registry, ready observability.ReadinessChecker, status observability.StatusFunc) ObservabilityServer {
			return observability.NewServer(addr, registry, ready, observability.WithPluginStatus(status))
		}
	}
	return &out
}

// openStore opens the configured storage backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, func(), error) {
	if cfg.Driver != config.StoragePostgres {
		return storage.NewMemory(), func() {}, nil
	}
	pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// Verify interfaces are satisfied.
var (
	_ Migrator            = (*storage.Migrator)(nil)
	_ ObservabilityServer = (*observability.Server)(nil)
)
