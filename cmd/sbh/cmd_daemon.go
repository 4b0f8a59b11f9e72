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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sbh/internal/daemon"
	"github.com/AleutianAI/sbh/pkg/logging"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	daemonMetricsAddr string // Prometheus listener address, empty = off
	daemonDryRun      bool   // score and plan but never delete/release
	daemonLogDir      string // file logging directory
)

// daemonCmd runs the long-lived pressure watcher.
//
// # Description
//
// Provisions the ballast pool, then loops: sample pressure, react with
// ballast releases and artifact scans, publish activity events, write
// the state snapshot. SIGINT/SIGTERM drain the log queue and write a
// final snapshot before exit.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the storage ballast daemon",
	Long: `Runs the long-lived watcher: pressure monitoring, ballast reaction,
artifact scanning, and activity logging.

Examples:
  sbh daemon                           # Foreground, default config
  sbh daemon --dry-run                 # Observe only, never delete
  sbh daemon --metrics-addr :9472     # Expose Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "",
		"Prometheus listen address (empty disables metrics)")
	daemonCmd.Flags().BoolVar(&daemonDryRun, "dry-run", false,
		"score and plan but never delete artifacts or release ballast")
	daemonCmd.Flags().StringVar(&daemonLogDir, "log-dir", "",
		"directory for daemon log files (empty: stderr only)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := logging.LevelInfo
	if flagVerbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "daemon",
		LogDir:  daemonLogDir,
		JSON:    true,
	})
	defer logger.Close()

	d, err := daemon.New(cfg, daemon.Options{
		MetricsAddr: daemonMetricsAddr,
		DryRun:      daemonDryRun,
	}, logger)
	if err != nil {
		return runtimeErr(fmt.Errorf("start daemon: %w", err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		return internalErr(fmt.Errorf("daemon loop: %w", err))
	}
	return nil
}
