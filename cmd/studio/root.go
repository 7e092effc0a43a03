// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/schemastudio/studio/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the studio CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "studio",
		Short: "Schema Studio - plugin host for the component-schema editor",
		Long: `Schema Studio hosts the editor's feature plugins. It discovers plugin
manifests, activates them in dependency order behind capability-gated
contexts, and serves metrics and health probes while they run.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/studio/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags(), config.Default())

	cmd.AddCommand(newRunCmd(nil))
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newPluginsCmd())
	cmd.AddCommand(newMigrateCmd(nil))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads the config file and the flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("studio %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
