// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
)

// XDG base-directory resolution. Every SBH file lives under one of
// three roots:
//
//	config:  $XDG_CONFIG_HOME/sbh  (config.toml, patterns.d)
//	data:    $XDG_DATA_HOME/sbh    (ballast pool)
//	state:   $XDG_STATE_HOME/sbh   (daemon state, activity log, prefs)

// ConfigDir returns the SBH configuration directory.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the SBH data directory (ballast pool home).
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// StateDir returns the SBH state directory (logs, state file, prefs).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// DefaultConfigPath returns the canonical config.toml location.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

func xdgDir(envVar, homeRelative string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "sbh")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Last resort; the daemon validates writability later.
		home = "."
	}
	return filepath.Join(home, homeRelative, "sbh")
}

// resolvePaths fills empty path fields with the XDG layout. Called by
// Load after parsing, before validation.
func resolvePaths(cfg *Config) {
	state := StateDir()
	if cfg.Paths.StateFile == "" {
		cfg.Paths.StateFile = filepath.Join(state, "daemon-state.json")
	}
	if cfg.Paths.PrefsFile == "" {
		cfg.Paths.PrefsFile = filepath.Join(state, "dashboard-prefs.json")
	}
	if cfg.Paths.PatternsDir == "" {
		cfg.Paths.PatternsDir = filepath.Join(ConfigDir(), "patterns.d")
	}
	if cfg.Ballast.Directory == "" {
		cfg.Ballast.Directory = filepath.Join(DataDir(), "ballast")
	}
	if cfg.Logging.JSONLPath == "" {
		cfg.Logging.JSONLPath = filepath.Join(state, "activity.jsonl")
	}
	if cfg.Logging.SQLitePath == "" {
		cfg.Logging.SQLitePath = filepath.Join(state, "activity.db")
	}
	if len(cfg.Pressure.Mounts) == 0 {
		cfg.Pressure.Mounts = []string{"/"}
	}
	if len(cfg.Scanner.RootPaths) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Scanner.RootPaths = []string{home}
		}
	}
}
