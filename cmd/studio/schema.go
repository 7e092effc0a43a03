// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/schemastudio/studio/internal/plugin"
)

type schemaConfig struct {
	out string
}

func newSchemaCmd() *cobra.Command {
	cfg := &schemaConfig{}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin manifest JSON Schema",
		Long: `Print the JSON Schema for plugin.yaml manifests, or write it to a file
with --out for editor integration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.out, "out", "o", "", "write the schema to this file instead of stdout")

	return cmd
}

func runSchema(cmd *cobra.Command, cfg *schemaConfig) error {
	schema, err := plugin.GenerateSchema()
	if err != nil {
		return oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}

	if cfg.out == "" {
		_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.out), 0o750); err != nil {
		return oops.Code("OUTPUT_FAILED").With("path", cfg.out).Wrap(err)
	}
	if err := os.WriteFile(cfg.out, schema, 0o600); err != nil {
		return oops.Code("OUTPUT_FAILED").With("path", cfg.out).Wrap(err)
	}
	cmd.Printf("Generated %s\n", cfg.out)
	return nil
}
