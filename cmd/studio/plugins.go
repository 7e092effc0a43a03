// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/schemastudio/studio/internal/plugin"
)

// PluginInfo describes one discovered plugin.
type PluginInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Activation   string   `json:"activation"`
	Kind         string   `json:"kind"`
	Dir          string   `json:"dir"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type pluginsConfig struct {
	jsonOutput bool
}

func newPluginsCmd() *cobra.Command {
	cfg := &pluginsConfig{}

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List plugins found in the plugins directory",
		Long: `List the plugins the host would load, without activating any of them.
Directories with a missing or invalid manifest are skipped; run 'studio validate'
to see why.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runPlugins(cmd, cfg, appCfg.PluginsDir, appCfg.Disabled)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runPlugins(cmd *cobra.Command, cfg *pluginsConfig, dir string, disabled []string) error {
	discovered, err := plugin.NewManager(dir, nil).Discover(cmd.Context())
	if err != nil {
		return err
	}

	skip := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		skip[id] = true
	}

	infos := make([]PluginInfo, 0, len(discovered))
	for _, dp := range discovered {
		m := dp.Manifest
		if skip[m.ID] {
			continue
		}
		kind := "declarative"
		if m.Lua != nil {
			kind = "lua"
		}
		infos = append(infos, PluginInfo{
			ID:           m.ID,
			Name:         m.Name,
			Version:      m.Version,
			Activation:   string(m.Mode()),
			Kind:         kind,
			Dir:          filepath.Base(dp.Dir),
			Capabilities: m.Capabilities,
		})
	}

	if cfg.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	}

	if len(infos) == 0 {
		cmd.Printf("No plugins found in %s\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = w.Write([]byte("ID\tVERSION\tACTIVATION\tKIND\tCAPABILITIES\n"))
	for _, info := range infos {
		_, _ = w.Write([]byte(strings.Join([]string{
			info.ID, info.Version, info.Activation, info.Kind, strings.Join(info.Capabilities, ","),
		}, "\t") + "\n"))
	}
	if err := w.Flush(); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
