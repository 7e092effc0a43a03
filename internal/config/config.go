// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package config loads the studio host configuration from a YAML file
// overlaid with command-line flags.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/schemastudio/studio/internal/logging"
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/internal/xdg"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the studio host configuration.
type Config struct {
	PluginsDir  string        `koanf:"plugins_dir"`
	Disabled    []string      `koanf:"disabled"`
	Theme       string        `koanf:"theme"`
	Document    string        `koanf:"document"`
	Schema      string        `koanf:"schema"`
	MetricsAddr string        `koanf:"metrics_addr"`
	Log         LogConfig     `koanf:"log"`
	Storage     StorageConfig `koanf:"storage"`
	Grants      GrantsConfig  `koanf:"grants"`
	Retry       RetryConfig   `koanf:"retry"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StorageConfig selects the plugin storage backend.
type StorageConfig struct {
	Driver      string `koanf:"driver"`
	DatabaseURL string `koanf:"database_url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// GrantsConfig is the host capability policy. Plugins maps a plugin id to
// its grant patterns; plugins not listed get Default.
type GrantsConfig struct {
	Default []string            `koanf:"default"`
	Plugins map[string][]string `koanf:"plugins"`
}

// RetryConfig tunes the retry of failed plugins.
type RetryConfig struct {
	Base     time.Duration `koanf:"base"`
	Attempts uint64        `koanf:"attempts"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	pluginsDir, err := xdg.PluginsDir()
	if err != nil {
		pluginsDir = "plugins"
	}
	return Config{
		PluginsDir:  pluginsDir,
		Theme:       "light",
		MetricsAddr: "127.0.0.1:9100",
		Log:         LogConfig{Format: "json", Level: "info"},
		Storage:     StorageConfig{Driver: StorageMemory},
		Grants:      GrantsConfig{Default: []string{"**"}},
		Retry:       RetryConfig{Base: 100 * time.Millisecond, Attempts: 3},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"plugins-dir":  "plugins_dir",
	"disable":      "disabled",
	"theme":        "theme",
	"document":     "document",
	"schema":       "schema",
	"metrics-addr": "metrics_addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"storage":      "storage.driver",
	"database-url": "storage.database_url",
	"auto-migrate": "storage.auto_migrate",
}

// RegisterFlags adds the flags Load understands to flags, defaulting to d.
func RegisterFlags(flags *pflag.FlagSet, d Config) {
	flags.String("plugins-dir", d.PluginsDir, "directory containing plugin folders")
	flags.StringSlice("disable", d.Disabled, "plugin ids to skip")
	flags.String("theme", d.Theme, "initial editor theme")
	flags.String("document", d.Document, "document to load at startup")
	flags.String("schema", d.Schema, "JSON Schema the document is validated against")
	flags.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.String("storage", d.Storage.Driver, "plugin storage driver (memory or postgres)")
	flags.String("database-url", d.Storage.DatabaseURL, "PostgreSQL URL for postgres storage")
	flags.Bool("auto-migrate", d.Storage.AutoMigrate, "apply storage migrations at startup")
}

// Load reads the config file at path, then overlays the flags in flags that
// were set on the command line. An empty path means the XDG default, which
// may be missing; an explicit path must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		def, err := xdg.ConfigFile()
		if err == nil {
			path = def
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				path = ""
			} else {
				return nil, oops.Code("CONFIG_NOT_FOUND").With("path", path).Wrapf(err, "config file")
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "parse config")
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "apply flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string
	if c.PluginsDir == "" {
		problems = append(problems, "plugins_dir is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		problems = append(problems, "log.format must be 'json' or 'text', got \""+c.Log.Format+"\"")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, "log.level must be debug, info, warn or error, got \""+c.Log.Level+"\"")
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "storage.driver must be 'memory' or 'postgres', got \""+c.Storage.Driver+"\"")
	}
	if c.Retry.Base <= 0 {
		problems = append(problems, "retry.base must be positive")
	}
	if _, err := c.Enforcer(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Enforcer builds the capability enforcer described by Grants.
func (c *Config) Enforcer() (*capability.Enforcer, error) {
	e := capability.NewEnforcer()
	if c.Grants.Default != nil {
		if err := e.SetDefaultGrants(c.Grants.Default); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Errorf("grants.default: %v", err)
		}
	}
	for id, patterns := range c.Grants.Plugins {
		if err := e.SetGrants(id, patterns); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("plugin", id).Errorf("grants.plugins.%s: %v", id, err)
		}
	}
	return e, nil
}
