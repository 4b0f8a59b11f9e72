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
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/sbh/internal/dashboard"
)

// dashboardCmd starts the terminal dashboard.
var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"tui"},
	Short:   "Open the interactive terminal dashboard",
	Long: `Opens the full-screen dashboard: pressure overview, activity
timeline, deletion explainability, scan candidates, ballast inventory,
log search, and diagnostics. Works read-only against the daemon's
state file and activity log; the daemon does not need to be running.`,
	Args: cobra.NoArgs,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return userErr(fmt.Errorf("the dashboard needs a terminal; try \"sbh status\" instead"))
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := dashboard.NewRuntime(dashboard.RuntimeConfig{
		StatePath:   cfg.Paths.StateFile,
		Mounts:      cfg.Pressure.Mounts,
		BallastDir:  cfg.Ballast.Directory,
		BallastN:    cfg.Ballast.FileCount,
		BallastSize: cfg.Ballast.FileSizeBytes,
		SQLitePath:  cfg.Logging.SQLitePath,
		JSONLPath:   cfg.Logging.JSONLPath,
		PrefsPath:   cfg.Paths.PrefsFile,
	})
	if err != nil {
		return runtimeErr(err)
	}
	if err := rt.Run(); err != nil {
		return runtimeErr(fmt.Errorf("dashboard: %w", err))
	}
	return nil
}
