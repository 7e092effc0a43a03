// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemastudio/studio/internal/config"
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/pkg/errutil"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("studio", pflag.ContinueOnError)
	config.RegisterFlags(fs, config.Default())
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/data/studio/plugins", cfg.PluginsDir)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, config.StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Base)
	assert.Equal(t, uint64(3), cfg.Retry.Attempts)
}

func TestLoad_XDGDefaultFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, "studio"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(home, "studio", "config.yaml"), []byte("theme: dark\n"), 0o600))

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "dark", cfg.Theme)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
plugins_dir: /srv/studio/plugins
disabled:
  - canvas
theme: dark
document: examples/form.json
log:
  format: text
  level: debug
storage:
  driver: postgres
  database_url: postgres://studio@localhost/studio
  auto_migrate: true
grants:
  default:
    - "*:read"
  plugins:
    outline:
      - "**"
retry:
  base: 250ms
  attempts: 5
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/studio/plugins", cfg.PluginsDir)
	assert.Equal(t, []string{"canvas"}, cfg.Disabled)
	assert.Equal(t, "dark", cfg.Theme)
	assert.Equal(t, "examples/form.json", cfg.Document)
	assert.Equal(t, config.LogConfig{Format: "text", Level: "debug"}, cfg.Log)
	assert.Equal(t, config.StoragePostgres, cfg.Storage.Driver)
	assert.True(t, cfg.Storage.AutoMigrate)
	assert.Equal(t, []string{"*:read"}, cfg.Grants.Default)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Base)
	assert.Equal(t, uint64(5), cfg.Retry.Attempts)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr, "unset keys keep defaults")
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "theme: dark\nlog:\n  format: text\n")

	cfg, err := config.Load(path, newFlags(t, "--theme", "high-contrast", "--disable", "a,b", "--log-level", "warn"))
	require.NoError(t, err)

	assert.Equal(t, "high-contrast", cfg.Theme)
	assert.Equal(t, []string{"a", "b"}, cfg.Disabled)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset flags do not override the file")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		code string
	}{
		{
			name: "explicit path missing",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") },
			code: "CONFIG_NOT_FOUND",
		},
		{
			name: "malformed yaml",
			path: func(t *testing.T) string { return writeConfig(t, "theme: [dark\n") },
			code: "CONFIG_INVALID",
		},
		{
			name: "wrong type",
			path: func(t *testing.T) string { return writeConfig(t, "retry:\n  attempts: many\n") },
			code: "CONFIG_INVALID",
		},
		{
			name: "invalid value",
			path: func(t *testing.T) string { return writeConfig(t, "log:\n  format: xml\n") },
			code: "CONFIG_INVALID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.path(t), nil)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*config.Config) {}},
		{
			name:    "empty plugins dir",
			mutate:  func(c *config.Config) { c.PluginsDir = "" },
			wantErr: "plugins_dir is required",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *config.Config) { c.Storage.Driver = config.StoragePostgres },
			wantErr: "storage.database_url",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *config.Config) { c.Storage.Driver = "redis" },
			wantErr: "storage.driver",
		},
		{
			name:    "non-positive retry base",
			mutate:  func(c *config.Config) { c.Retry.Base = 0 },
			wantErr: "retry.base",
		},
		{
			name:    "empty grant pattern",
			mutate:  func(c *config.Config) { c.Grants.Plugins = map[string][]string{"outline": {""}} },
			wantErr: "grants.plugins.outline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Enforcer(t *testing.T) {
	cfg := config.Default()
	cfg.Grants = config.GrantsConfig{
		Default: []string{"*:read"},
		Plugins: map[string][]string{"outline": {"document:*"}},
	}

	e, err := cfg.Enforcer()
	require.NoError(t, err)
	assert.True(t, e.Check("canvas", capability.DocumentRead))
	assert.False(t, e.Check("canvas", capability.DocumentWrite))
	assert.True(t, e.Check("outline", capability.DocumentWrite))
	assert.False(t, e.Check("outline", capability.UIRead))
}
