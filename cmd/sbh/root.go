// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sbh/internal/config"
	"github.com/AleutianAI/sbh/pkg/logging"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagConfigPath string // --config: explicit config file path
	flagOutput     string // --output: auto|human|json
	flagVerbose    bool   // --verbose: debug-level stderr logging
)

var rootCmd = &cobra.Command{
	Use:   "sbh",
	Short: "Storage ballast helper: keeps developer hosts out of disk-full incidents",
	Long: `sbh watches filesystem pressure and reacts in two ways: releasing
pre-allocated ballast files for instant headroom, and scoring and
deleting regenerable build artifacts (target/, node_modules/,
__pycache__/ and friends) under protection markers and vetoes.

Run "sbh daemon" for the long-lived watcher, "sbh dashboard" for the
terminal UI, or the one-shot subcommands for manual operation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "",
		"config file path (default: XDG config dir)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "",
		"output format: auto, human, or json (default: $SBH_OUTPUT_FORMAT or auto)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")
}

// loadConfig resolves and loads the configuration, mapping validation
// failures to the user error class.
func loadConfig() (config.Config, error) {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return config.Config{}, userErr(err)
		}
		return config.Config{}, runtimeErr(fmt.Errorf("load config %s: %w", path, err))
	}
	return cfg, nil
}

// cliLogger builds the stderr logger for one-shot commands.
func cliLogger(service string) *logging.Logger {
	level := logging.LevelInfo
	if flagVerbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{Level: level, Service: service})
}
