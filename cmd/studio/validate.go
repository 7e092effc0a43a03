// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/schemastudio/studio/internal/plugin"
)

// ManifestReport is the validation outcome for one manifest file.
type ManifestReport struct {
	Path    string   `json:"path"`
	ID      string   `json:"id,omitempty"`
	Version string   `json:"version,omitempty"`
	Valid   bool     `json:"valid"`
	Errors  []string `json:"errors,omitempty"`
}

type validateConfig struct {
	jsonOutput bool
}

func newValidateCmd() *cobra.Command {
	cfg := &validateConfig{}

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate plugin manifests",
		Long: `Validate plugin.yaml manifests against the manifest JSON Schema and the
registration rules. Each path may be a manifest file, a plugin directory, or a
directory of plugin directories. Without paths the configured plugins
directory is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				appCfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				args = []string{appCfg.PluginsDir}
			}
			return runValidate(cmd, cfg, args)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output results as JSON")

	return cmd
}

func runValidate(cmd *cobra.Command, cfg *validateConfig, paths []string) error {
	var files []string
	for _, p := range paths {
		found, err := manifestFiles(p)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}

	reports := make([]ManifestReport, 0, len(files))
	invalid := 0
	for _, f := range files {
		r := validateManifestFile(f)
		if !r.Valid {
			invalid++
		}
		reports = append(reports, r)
	}

	if cfg.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
	} else {
		for _, r := range reports {
			if r.Valid {
				cmd.Printf("ok    %s (%s %s)\n", r.Path, r.ID, r.Version)
				continue
			}
			cmd.Printf("FAIL  %s\n", r.Path)
			for _, e := range r.Errors {
				cmd.Printf("      - %s\n", e)
			}
		}
	}

	if invalid > 0 {
		return oops.Code("VALIDATION_FAILED").
			With("invalid", invalid).
			Errorf("%d of %d manifests invalid", invalid, len(reports))
	}
	if len(reports) == 0 {
		cmd.Println("no manifests found")
	}
	return nil
}

// manifestFiles expands path into the manifest files it names.
func manifestFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, oops.Code("PATH_NOT_FOUND").With("path", path).Wrap(err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	direct := filepath.Join(path, plugin.ManifestFile)
	if _, err := os.Stat(direct); err == nil {
		return []string{direct}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Code("PATH_UNREADABLE").With("path", direct).Wrap(err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, oops.Code("PATH_UNREADABLE").With("path", path).Wrap(err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(path, e.Name(), plugin.ManifestFile)
		if _, err := os.Stat(candidate); err == nil {
			files = append(files, candidate)
		}
	}
	return files, nil
}

func validateManifestFile(path string) ManifestReport {
	r := ManifestReport{Path: path}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		r.Errors = []string{err.Error()}
		return r
	}

	if err := plugin.ValidateSchema(data); err != nil {
		r.Errors = append(r.Errors, plugin.FormatSchemaError(err))
	}
	m, err := plugin.ParseManifest(data)
	if err != nil {
		if res, ok := manifestErrors(err); ok {
			r.Errors = append(r.Errors, res...)
		} else if len(r.Errors) == 0 {
			r.Errors = append(r.Errors, err.Error())
		}
	}
	if m != nil {
		r.ID = m.ID
		r.Version = m.Version
	}
	r.Valid = len(r.Errors) == 0
	return r
}

// manifestErrors extracts the per-rule messages ParseManifest attaches to
// its error.
func manifestErrors(err error) ([]string, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil, false
	}
	list, ok := oopsErr.Context()["errors"].([]string)
	return list, ok && len(list) > 0
}
