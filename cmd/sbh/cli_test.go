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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/internal/daemon"
	"github.com/AleutianAI/sbh/internal/pressure"
	"github.com/AleutianAI/sbh/internal/scanner"
)

func TestExitErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{userErr(errors.New("bad flag")), exitUser},
		{runtimeErr(errors.New("io")), exitRuntime},
		{internalErr(errors.New("invariant")), exitInternal},
		{partialErr(errors.New("some failed")), exitPartial},
	}
	for _, tc := range cases {
		var coded *exitError
		require.True(t, errors.As(tc.err, &coded))
		assert.Equal(t, tc.code, coded.code)
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	inner := errors.New("root cause")
	wrapped := runtimeErr(fmt.Errorf("context: %w", inner))
	assert.True(t, errors.Is(wrapped, inner))
	assert.Contains(t, wrapped.Error(), "root cause")
}

func TestResolveFormatExplicitFlagWins(t *testing.T) {
	t.Setenv("SBH_OUTPUT_FORMAT", "human")
	flagOutput = "json"
	defer func() { flagOutput = "" }()

	assert.Equal(t, FormatJSON, resolveFormat())
}

func TestResolveFormatFromEnvironment(t *testing.T) {
	flagOutput = ""
	t.Setenv("SBH_OUTPUT_FORMAT", "json")
	assert.Equal(t, FormatJSON, resolveFormat())

	t.Setenv("SBH_OUTPUT_FORMAT", "human")
	assert.Equal(t, FormatHuman, resolveFormat())
}

func TestResolveFormatAutoWithoutTTY(t *testing.T) {
	// Test binaries run with stdout piped, so auto must resolve to
	// JSON here.
	flagOutput = ""
	t.Setenv("SBH_OUTPUT_FORMAT", "auto")
	assert.Equal(t, FormatJSON, resolveFormat())
}

func TestColorDisabledByNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, "red", coloredLevel("red"), "NO_COLOR strips ANSI codes")
}

func TestRenderScanListsCandidatesAndVetoes(t *testing.T) {
	r := scanReport{
		Result: scanner.ScanResult{
			DirsWalked: 120,
			DirsPruned: 4,
			Duration:   250 * time.Millisecond,
			Candidates: []scanner.CandidacyScore{
				{Path: "/home/dev/app/target", Category: "rust_target",
					TotalScore: 0.91, SizeBytes: 2 << 30},
				{Path: "/home/dev/app/.venv", Category: "python_venv",
					TotalScore: 0.40, SizeBytes: 200 << 20, Vetoed: true},
			},
			VetoedCount: 1,
		},
	}
	out := renderScan(r)
	assert.Contains(t, out, "120 dirs (4 pruned)")
	assert.Contains(t, out, "/home/dev/app/target")
	assert.Contains(t, out, "v 0.40")
}

func TestRenderScanDeletionSummary(t *testing.T) {
	r := scanReport{
		Report: &scanner.DeletionReport{
			ItemsDeleted: 3, BytesFreed: 1 << 30, ItemsFailed: 1,
			CircuitBreakerTripped: true,
		},
	}
	out := renderScan(r)
	assert.Contains(t, out, "deleted 3 items")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "circuit breaker tripped")

	r.Report.DryRun = true
	assert.Contains(t, renderScan(r), "would delete")
}

func TestRenderStatusFreshState(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	r := statusReport{
		Freshness:  "fresh",
		AgeSeconds: 12,
		State: &daemon.DaemonState{
			PID:           4242,
			UptimeSeconds: 3600,
			Pressure: daemon.PressureState{
				Overall: "yellow",
				Mounts: []pressure.MountSnapshot{
					{Mount: "/", FreePct: 9.5},
				},
			},
			Ballast:  daemon.BallastState{Available: 8, Total: 10},
			Counters: daemon.Counters{Scans: 12, Deletions: 30, BytesFreed: 5 << 30},
		},
	}
	out := renderStatus(r)
	assert.Contains(t, out, "pid 4242")
	assert.Contains(t, out, "pressure yellow")
	assert.Contains(t, out, "9.5% free")
	assert.Contains(t, out, "ballast 8/10")
}

func TestRenderStatusMissingStateFallsBack(t *testing.T) {
	r := statusReport{
		Freshness: "missing",
		Mounts: []mountStatus{
			{Mount: "/", FreePct: 34.2},
			{Mount: "/data", Error: "no such file or directory"},
		},
	}
	out := renderStatus(r)
	assert.Contains(t, out, "daemon not running")
	assert.Contains(t, out, "34.2% free")
	assert.Contains(t, out, "unavailable: no such file")
}

func TestRenderStatusStale(t *testing.T) {
	out := renderStatus(statusReport{Freshness: "stale", AgeSeconds: 300})
	assert.Contains(t, out, "stale")
	assert.Contains(t, out, "5m0s")
}

func TestCommandTreeRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"daemon", "scan", "ballast", "stats",
		"status", "dashboard", "config", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	var ballastSubs []string
	for _, c := range ballastCmd.Commands() {
		ballastSubs = append(ballastSubs, c.Name())
	}
	assert.ElementsMatch(t,
		[]string{"provision", "release", "verify", "status"}, ballastSubs)
}
