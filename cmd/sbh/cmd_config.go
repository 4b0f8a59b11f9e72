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
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/sbh/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or modify the configuration",
}

// configShowCmd prints the effective configuration after defaulting
// and path resolution, not the raw file.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

// configSetCmd mutates one dotted key in the TOML file.
//
// # Examples
//
//	sbh config set pressure.green_min_free_pct 25
//	sbh config set scanner.max_delete_batch 100
//	sbh config set ballast.release_fraction 0.5
var configSetCmd = &cobra.Command{
	Use:   "set <dotted.key> <value>",
	Short: "Set one configuration value by dotted path",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	return config.DefaultConfigPath()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return emit(cfg, func() string {
		raw, mErr := toml.Marshal(cfg)
		if mErr != nil {
			return fmt.Sprintf("encode config: %v", mErr)
		}
		return fmt.Sprintf("# %s (hash %s)\n%s",
			configPath(), cfg.StableHash(), raw)
	})
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	dotted, value := args[0], args[1]

	cfg, err := config.Set(configPath(), dotted, value)
	if err != nil {
		// Set validates the mutated document before writing; any
		// failure here is the user's value, not the system.
		return userErr(fmt.Errorf("set %s: %w", dotted, err))
	}

	report := struct {
		Key   string `json:"key"`
		Value string `json:"value"`
		Hash  string `json:"config_hash"`
	}{dotted, value, cfg.StableHash()}
	return emit(report, func() string {
		return fmt.Sprintf("%s = %s (config hash now %s)", dotted, value, cfg.StableHash())
	})
}
