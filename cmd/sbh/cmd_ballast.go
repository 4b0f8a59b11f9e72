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
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/sbh/internal/ballast"
)

var ballastReleaseCount int

var ballastCmd = &cobra.Command{
	Use:   "ballast",
	Short: "Manage the sacrificial ballast file pool",
	Long: `The ballast pool is a set of pre-allocated files that can be deleted
instantly to create headroom during a disk-pressure incident. The
daemon releases them automatically; these subcommands operate the pool
by hand.`,
}

// ballastProvisionCmd creates missing pool files. Idempotent.
var ballastProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create any missing ballast files",
	Args:  cobra.NoArgs,
	RunE:  runBallastProvision,
}

// ballastReleaseCmd deletes files for immediate headroom.
var ballastReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Delete ballast files to free space now",
	Long: `Deletes ballast files, highest index first. Each unlink frees its
space immediately.

Examples:
  sbh ballast release            # Release one file
  sbh ballast release -n 4       # Release four files`,
	Args: cobra.NoArgs,
	RunE: runBallastRelease,
}

// ballastVerifyCmd checks frame integrity without repairing.
var ballastVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check header and trailer integrity of every ballast file",
	Args:  cobra.NoArgs,
	RunE:  runBallastVerify,
}

// ballastStatusCmd prints the inventory.
var ballastStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ballast pool inventory",
	Args:  cobra.NoArgs,
	RunE:  runBallastStatus,
}

func init() {
	ballastReleaseCmd.Flags().IntVarP(&ballastReleaseCount, "count", "n", 1,
		"number of files to release")
	ballastCmd.AddCommand(ballastProvisionCmd, ballastReleaseCmd,
		ballastVerifyCmd, ballastStatusCmd)
	rootCmd.AddCommand(ballastCmd)
}

func openPool() (*ballast.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cliLogger("cli")
	return ballast.NewPool(cfg.Ballast.Directory, cfg.Ballast.FileCount,
		cfg.Ballast.FileSizeBytes, logger), nil
}

func runBallastProvision(cmd *cobra.Command, args []string) error {
	pool, err := openPool()
	if err != nil {
		return err
	}
	created, err := pool.Provision()
	if err != nil {
		if created > 0 {
			return partialErr(fmt.Errorf("provisioned %d files, then: %w", created, err))
		}
		return runtimeErr(fmt.Errorf("provision ballast: %w", err))
	}

	report := struct {
		FilesCreated int `json:"files_created"`
		FilesTotal   int `json:"files_total"`
	}{created, pool.Total()}
	return emit(report, func() string {
		return fmt.Sprintf("provisioned %d new files (%d/%d present, %s each)",
			created, pool.Available(), pool.Total(),
			humanize.Bytes(uint64(pool.FileSize())))
	})
}

func runBallastRelease(cmd *cobra.Command, args []string) error {
	if ballastReleaseCount < 1 {
		return userErr(fmt.Errorf("--count must be at least 1"))
	}
	pool, err := openPool()
	if err != nil {
		return err
	}

	report, err := pool.Release(ballastReleaseCount)
	if err != nil {
		if errors.Is(err, ballast.ErrPoolExhausted) {
			return userErr(fmt.Errorf("ballast pool is empty; nothing to release"))
		}
		return runtimeErr(err)
	}

	if emitErr := emit(report, func() string {
		return fmt.Sprintf("released %d files, %s freed (%d errors)",
			report.FilesReleased, humanize.Bytes(uint64(report.BytesFreed)),
			len(report.Errors))
	}); emitErr != nil {
		return runtimeErr(emitErr)
	}

	if len(report.Errors) > 0 && report.FilesReleased > 0 {
		return partialErr(fmt.Errorf("%d of %d releases failed",
			len(report.Errors), report.FilesReleased+len(report.Errors)))
	}
	if len(report.Errors) > 0 {
		return runtimeErr(fmt.Errorf("every release failed: %s",
			strings.Join(report.Errors, "; ")))
	}
	return nil
}

func runBallastVerify(cmd *cobra.Command, args []string) error {
	pool, err := openPool()
	if err != nil {
		return err
	}
	report := pool.Verify()

	if emitErr := emit(report, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "checked %d files: %d ok, %d released, %d corrupted",
			report.FilesChecked, report.FilesOK,
			report.FilesMissing, report.FilesCorrupted)
		for _, d := range report.Details {
			fmt.Fprintf(&b, "\n  %s", d)
		}
		return b.String()
	}); emitErr != nil {
		return runtimeErr(emitErr)
	}

	// Corruption is an integrity finding, never auto-repaired.
	if report.FilesCorrupted > 0 {
		return runtimeErr(fmt.Errorf("%d corrupted ballast files; re-provision to replace them",
			report.FilesCorrupted))
	}
	return nil
}

func runBallastStatus(cmd *cobra.Command, args []string) error {
	pool, err := openPool()
	if err != nil {
		return err
	}
	inventory := pool.Inventory()

	return emit(inventory, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "%d/%d files present under %s\n",
			pool.Available(), pool.Total(), filepath.Dir(pool.Path(0)))
		for _, f := range inventory {
			status := "present"
			if f.Size == 0 {
				status = "released"
			} else if !f.IntegrityOK {
				status = "corrupt"
			}
			fmt.Fprintf(&b, "  ballast_%02d.bin  %-9s %s\n",
				f.Index, humanize.Bytes(uint64(f.Size)), status)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
