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
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/sbh/internal/activity"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	statsWindow string // look-back window name
	statsTopN   int    // rows in top-patterns / top-deletions
)

// statsCmd answers "what has sbh been doing" from the SQLite index.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show windowed deletion, ballast, and pressure statistics",
	Long: `Computes statistics over the activity index for a look-back window.

Windows: 15m, 1h, 6h, 24h, 7d.

Examples:
  sbh stats                 # Last 24 hours
  sbh stats -w 7d           # Last week
  sbh stats -w 1h --top 5   # With top-5 breakdowns`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsWindow, "window", "w", "24h",
		"look-back window (15m, 1h, 6h, 24h, 7d)")
	statsCmd.Flags().IntVar(&statsTopN, "top", 10,
		"rows in the per-category and largest-deletion breakdowns")
	rootCmd.AddCommand(statsCmd)
}

// statsReport is the JSON document for one stats invocation.
type statsReport struct {
	Stats       activity.WindowStats   `json:"stats"`
	TopPatterns []activity.PatternTotal `json:"top_patterns,omitempty"`
	TopDeleted  []activity.Entry        `json:"top_deletions,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	window, ok := activity.WindowByName(statsWindow)
	if !ok {
		return userErr(fmt.Errorf("unknown window %q; use 15m, 1h, 6h, 24h, or 7d", statsWindow))
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	index, err := activity.OpenIndexReadOnly(cfg.Logging.SQLitePath)
	if err != nil {
		return runtimeErr(fmt.Errorf("open activity index (has the daemon run?): %w", err))
	}
	defer index.Close()

	now := time.Now()
	stats := activity.NewStats(index)

	windowStats, err := stats.Compute(window, now)
	if err != nil {
		return runtimeErr(fmt.Errorf("compute stats: %w", err))
	}
	report := statsReport{Stats: windowStats}
	if report.TopPatterns, err = stats.TopPatterns(window, now, statsTopN); err != nil {
		return runtimeErr(err)
	}
	if report.TopDeleted, err = stats.TopDeletions(window, now, statsTopN); err != nil {
		return runtimeErr(err)
	}

	return emit(report, func() string { return renderStats(report) })
}

func renderStats(r statsReport) string {
	var b strings.Builder
	s := r.Stats

	fmt.Fprintf(&b, "window %s\n", s.Window)
	fmt.Fprintf(&b, "pressure  now %s at %.1f%% free, worst %s, %d transitions\n",
		coloredLevel(s.Pressure.CurrentLevel), s.Pressure.CurrentFreePct,
		s.Pressure.WorstLevel, s.Pressure.Transitions)
	fmt.Fprintf(&b, "deletions %d items, %s freed (avg score %.2f, avg age %.0fh, %d failures)\n",
		s.Deletions.Count, humanize.Bytes(uint64(s.Deletions.TotalBytesFreed)),
		s.Deletions.AvgScore, s.Deletions.AvgAgeHours, s.Deletions.Failures)
	if s.Deletions.LargestPath != "" {
		fmt.Fprintf(&b, "          largest %s (%s)\n",
			s.Deletions.LargestPath, humanize.Bytes(uint64(s.Deletions.LargestSize)))
	}
	fmt.Fprintf(&b, "ballast   %d released, %d replenished, %d in pool (%s)\n",
		s.Ballast.FilesReleased, s.Ballast.FilesReplenished,
		s.Ballast.CurrentInventory, humanize.Bytes(uint64(s.Ballast.BytesAvailable)))

	if len(r.TopPatterns) > 0 {
		b.WriteString("top categories:\n")
		for _, p := range r.TopPatterns {
			fmt.Fprintf(&b, "  %-16s %9s in %d deletions\n",
				p.Category, humanize.Bytes(uint64(p.BytesFreed)), p.Count)
		}
	}
	if len(r.TopDeleted) > 0 {
		b.WriteString("largest deletions:\n")
		for _, e := range r.TopDeleted {
			fmt.Fprintf(&b, "  %9s  %s\n", humanize.Bytes(uint64(e.Size)), e.Path)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
