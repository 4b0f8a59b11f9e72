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

	"github.com/AleutianAI/sbh/internal/daemon"
	"github.com/AleutianAI/sbh/internal/platform"
)

// statusCmd summarizes daemon liveness and pressure in one shot.
//
// # Description
//
// Reads the daemon state snapshot and classifies its freshness. When
// the snapshot is missing or malformed the command degrades to a
// direct statfs of the watched mounts, the same fallback the dashboard
// uses, so "sbh status" always answers.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon liveness and current pressure",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the JSON document for one status invocation.
type statusReport struct {
	Freshness  string              `json:"freshness"`
	AgeSeconds float64             `json:"age_seconds,omitempty"`
	State      *daemon.DaemonState `json:"state,omitempty"`
	Mounts     []mountStatus       `json:"mounts,omitempty"`
}

type mountStatus struct {
	Mount   string  `json:"mount"`
	FreePct float64 `json:"free_pct"`
	Error   string  `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	read := daemon.ReadState(cfg.Paths.StateFile, time.Now())
	report := statusReport{
		Freshness:  read.Freshness.String(),
		AgeSeconds: read.Age.Seconds(),
		State:      read.State,
	}

	if read.State == nil {
		for _, mount := range cfg.Pressure.Mounts {
			ms := mountStatus{Mount: mount}
			if st, statErr := platform.Statfs(mount); statErr == nil {
				ms.FreePct = st.FreePct()
			} else {
				ms.Error = statErr.Error()
			}
			report.Mounts = append(report.Mounts, ms)
		}
	}

	return emit(report, func() string { return renderStatus(report) })
}

func renderStatus(r statusReport) string {
	var b strings.Builder

	switch r.Freshness {
	case "fresh":
		st := r.State
		fmt.Fprintf(&b, "daemon running (pid %d, up %s, state %ds old)\n",
			st.PID, (time.Duration(st.UptimeSeconds) * time.Second).String(),
			int(r.AgeSeconds))
		fmt.Fprintf(&b, "pressure %s", coloredLevel(st.Pressure.Overall))
		for _, m := range st.Pressure.Mounts {
			fmt.Fprintf(&b, "  [%s %.1f%% free]", m.Mount, m.FreePct)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "ballast %d/%d  scans %d  deleted %d (%s freed)  errors %d",
			st.Ballast.Available, st.Ballast.Total, st.Counters.Scans,
			st.Counters.Deletions, humanize.Bytes(st.Counters.BytesFreed),
			st.Counters.Errors)
	case "stale":
		fmt.Fprintf(&b, "daemon state is stale (%s old); the daemon may be stopped or stuck",
			(time.Duration(r.AgeSeconds) * time.Second).String())
	default:
		fmt.Fprintf(&b, "daemon not running (state %s); direct mount readings:", r.Freshness)
		for _, m := range r.Mounts {
			if m.Error != "" {
				fmt.Fprintf(&b, "\n  %-20s unavailable: %s", m.Mount, m.Error)
			} else {
				fmt.Fprintf(&b, "\n  %-20s %.1f%% free", m.Mount, m.FreePct)
			}
		}
	}
	return b.String()
}
