// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/schemastudio/studio/internal/config"
	"github.com/schemastudio/studio/internal/storage"
)

// MigratorFactory creates a storage migrator for a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	return storage.NewMigrator(databaseURL)
}

// newMigrateCmd creates the migrate command group. A nil factory uses
// storage.NewMigrator.
func newMigrateCmd(factory MigratorFactory) *cobra.Command {
	if factory == nil {
		factory = defaultMigratorFactory
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the plugin storage schema",
		Long: `Apply, roll back or inspect the PostgreSQL schema used by the postgres
storage driver. The database URL comes from --database-url or storage.database_url.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m Migrator) error {
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m Migrator) error {
				return printMigrationStatus(cmd, m)
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, factory MigratorFactory, fn func(Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database URL is required (--database-url or storage.database_url)")
	}
	if cfg.Storage.Driver != config.StoragePostgres {
		slog.Warn("migrating a database the configured storage driver does not use", "driver", cfg.Storage.Driver)
	}

	m, err := factory(cfg.Storage.DatabaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()
	return fn(m)
}

func printMigrationStatus(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
	}
	pending, err := m.Pending()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "pending").Wrap(err)
	}

	if version == 0 {
		cmd.Println("Current version: none")
	} else {
		cmd.Printf("Current version: %d\n", version)
	}
	if dirty {
		cmd.Println("WARNING: database is dirty; the last migration failed part way")
	}
	if len(pending) == 0 {
		cmd.Println("Up to date")
		return nil
	}
	cmd.Printf("Pending: %d\n", len(pending))
	for _, v := range pending {
		cmd.Printf("  %06d\n", v)
	}
	return nil
}
