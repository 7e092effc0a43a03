// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package xdg provides XDG Base Directory paths for Schema Studio.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "studio"

func baseDir(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("NO_HOME_DIR").With("env", env).Wrapf(err, "%s is unset and no home directory", env)
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

// ConfigDir returns the XDG config directory for studio.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return baseDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for studio.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return baseDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// PluginsDir returns the default plugins directory.
func PluginsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugins"), nil
}
