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

	"github.com/AleutianAI/sbh/internal/scanner"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	scanUrgency float64 // scoring multiplier input, 0..1
	scanDelete  bool    // execute the deletion plan
	scanDryRun  bool    // plan deletions but only log them
	scanTop     int     // candidates shown in human output
)

// scanCmd runs one scan pass without the daemon.
//
// # Description
//
// Walks the configured roots, classifies artifact directories, scores
// them at the given urgency, and prints the candidate list. With
// --delete it also executes the deletion plan the daemon would have
// built, honoring the same vetoes, batch clamp, and circuit breaker.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for regenerable build artifacts and score them",
	Long: `Runs one scanner pass over the configured root paths.

Without --delete this is read-only. With --delete the resulting plan is
executed exactly as the daemon would: score cutoff, batch clamp,
open-file checks, and the consecutive-failure circuit breaker all
apply.

Examples:
  sbh scan                       # Score and list candidates
  sbh scan --urgency 0.8         # Score as if under heavy pressure
  sbh scan --delete --dry-run    # Show what would be deleted
  sbh scan --delete              # Actually delete`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Float64Var(&scanUrgency, "urgency", 0,
		"pressure urgency used for scoring, 0..1")
	scanCmd.Flags().BoolVar(&scanDelete, "delete", false,
		"execute the deletion plan after scoring")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false,
		"with --delete: log the plan instead of deleting")
	scanCmd.Flags().IntVar(&scanTop, "top", 20,
		"number of candidates to show in human output")
	rootCmd.AddCommand(scanCmd)
}

// scanReport is the JSON document for one scan invocation.
type scanReport struct {
	Result scanner.ScanResult      `json:"result"`
	Plan   []string                `json:"plan,omitempty"`
	Report *scanner.DeletionReport `json:"deletion_report,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanUrgency < 0 || scanUrgency > 1 {
		return userErr(fmt.Errorf("--urgency must be in [0,1], got %g", scanUrgency))
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger("cli")
	defer logger.Close()

	registry, err := scanner.BuiltinRegistry()
	if err != nil {
		return internalErr(err)
	}
	if err := registry.LoadPacks(cfg.Paths.PatternsDir); err != nil {
		return userErr(fmt.Errorf("pattern packs: %w", err))
	}
	protection, err := scanner.NewProtection(cfg.Scanner.ProtectedPaths)
	if err != nil {
		return userErr(err)
	}

	pipeline := scanner.NewPipeline(cfg, registry, protection, logger)
	if err := pipeline.RefreshProtection(); err != nil {
		return runtimeErr(fmt.Errorf("discover protection markers: %w", err))
	}

	result, err := pipeline.Run(cmd.Context(), scanUrgency, time.Now())
	if err != nil {
		return runtimeErr(fmt.Errorf("scan: %w", err))
	}

	report := scanReport{Result: result}
	if scanDelete {
		delCfg := scanner.DeletionConfig{
			MaxBatchSize:            cfg.Scanner.MaxDeleteBatch,
			MinScore:                cfg.Scoring.MinScore,
			DryRun:                  scanDryRun,
			CheckOpenFiles:          true,
			CircuitBreakerThreshold: 5,
		}
		plan := scanner.BuildPlan(result.Candidates, delCfg)
		for _, c := range plan.Candidates {
			report.Plan = append(report.Plan, c.Path)
		}
		executor := scanner.NewExecutor(delCfg, logger, nil)
		del := executor.Execute(cmd.Context(), plan, nil)
		report.Report = &del

		if err := emit(report, func() string { return renderScan(report) }); err != nil {
			return runtimeErr(err)
		}
		if del.ItemsFailed > 0 && del.ItemsDeleted > 0 {
			return partialErr(fmt.Errorf("%d deleted, %d failed", del.ItemsDeleted, del.ItemsFailed))
		}
		if del.ItemsFailed > 0 {
			return runtimeErr(fmt.Errorf("all %d deletions failed", del.ItemsFailed))
		}
		return nil
	}

	if err := emit(report, func() string { return renderScan(report) }); err != nil {
		return runtimeErr(err)
	}
	return nil
}

func renderScan(r scanReport) string {
	var b strings.Builder
	res := r.Result
	fmt.Fprintf(&b, "scanned %d dirs (%d pruned) in %s: %d candidates, %d vetoed\n",
		res.DirsWalked, res.DirsPruned, res.Duration.Round(time.Millisecond),
		len(res.Candidates), res.VetoedCount)

	shown := 0
	for _, c := range res.Candidates {
		if shown >= scanTop {
			fmt.Fprintf(&b, "  ... %d more\n", len(res.Candidates)-shown)
			break
		}
		marker := " "
		if c.Vetoed {
			marker = "v"
		}
		fmt.Fprintf(&b, "  %s %.2f  %-14s %-9s %s\n",
			marker, c.TotalScore, c.Category,
			humanize.Bytes(uint64(c.SizeBytes)), c.Path)
		shown++
	}

	if r.Report != nil {
		rep := r.Report
		verb := "deleted"
		if rep.DryRun {
			verb = "would delete"
		}
		fmt.Fprintf(&b, "%s %d items, %s freed, %d skipped, %d failed",
			verb, rep.ItemsDeleted, humanize.Bytes(uint64(rep.BytesFreed)),
			rep.ItemsSkipped, rep.ItemsFailed)
		if rep.CircuitBreakerTripped {
			b.WriteString(" (circuit breaker tripped)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
