// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dashboard

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/AleutianAI/sbh/internal/ballast"
	"github.com/AleutianAI/sbh/internal/daemon"
	"github.com/AleutianAI/sbh/internal/platform"
	"github.com/AleutianAI/sbh/internal/pressure"
	"github.com/AleutianAI/sbh/internal/scanner"
	"github.com/AleutianAI/sbh/pkg/logging"
)

// quietPoolLogger keeps read-only pool inventory from logging into the
// operator's terminal session.
func quietPoolLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

// StateSource names where a StateResult's data came from.
type StateSource string

const (
	SourceDaemonState StateSource = "daemon_state"
	SourceFsFallback  StateSource = "fsstats_fallback"
	SourceNone        StateSource = "none"
)

// FieldWarnings reports schema drift between the reader and the state
// file.
type FieldWarnings struct {
	Unknown []string
	Missing []string
}

// StateResult is the adapter's read of the daemon state file, possibly
// degraded to a local filesystem view.
type StateResult struct {
	Freshness daemon.Freshness
	Age       time.Duration
	Source    StateSource
	State     *daemon.DaemonState
	Mounts    []pressure.MountSnapshot
	Ballast   []ballast.File
	Warnings  FieldWarnings

	// Candidates is the last scan's scored list from the sidecar the
	// daemon writes next to the state file. Empty when no scan has run.
	Candidates []scanner.CandidacyScore
}

// OverallLevel returns the pressure aggregate, "green" when no daemon
// state is available (a fallback view carries no hysteresis state).
func (r StateResult) OverallLevel() string {
	if r.State != nil && r.State.Pressure.Overall != "" {
		return r.State.Pressure.Overall
	}
	return "green"
}

// Usable reports whether the result carries anything renderable.
func (r StateResult) Usable() bool {
	return r.State != nil || len(r.Mounts) > 0
}

// StateAdapter reads the daemon's snapshot for the dashboard, never
// writing anything.
type StateAdapter struct {
	path       string
	mounts     []string
	ballastDir string
	ballastN   int
	ballastSz  int64
}

// NewStateAdapter wires the adapter to the configured paths. mounts is
// the fallback stat list used when the daemon state is unavailable.
func NewStateAdapter(path string, mounts []string, ballastDir string, ballastN int, ballastSz int64) *StateAdapter {
	return &StateAdapter{
		path: path, mounts: mounts,
		ballastDir: ballastDir, ballastN: ballastN, ballastSz: ballastSz,
	}
}

// Read classifies the state file and fills the result. Missing or
// malformed files degrade to a synthesized view from local FsStats so
// the dashboard always has something to show; Stale keeps the parsed
// snapshot with its age made explicit.
func (a *StateAdapter) Read(now time.Time) StateResult {
	res := StateResult{Source: SourceNone}

	read := daemon.ReadState(a.path, now)
	res.Freshness = read.Freshness
	res.Age = read.Age

	switch read.Freshness {
	case daemon.Fresh, daemon.Stale:
		res.Source = SourceDaemonState
		res.State = read.State
		res.Mounts = read.State.Pressure.Mounts
		res.Warnings = fieldWarnings(a.path)
	case daemon.Missing, daemon.Malformed:
		res.Mounts = a.statFallback()
		if len(res.Mounts) > 0 {
			res.Source = SourceFsFallback
		}
	}

	// The ballast inventory is read directly; the pool layout is plain
	// files, visible whether or not the daemon is running.
	res.Ballast = a.ballastInventory()

	// Best effort: a missing or garbled sidecar leaves the Candidates
	// screen empty, it never degrades the rest of the view.
	if snap, err := daemon.ReadScanSnapshot(daemon.ScanSnapshotPath(a.path)); err == nil {
		res.Candidates = snap.Candidates
	}
	return res
}

func (a *StateAdapter) statFallback() []pressure.MountSnapshot {
	var out []pressure.MountSnapshot
	for _, mount := range a.mounts {
		st, err := platform.Statfs(mount)
		if err != nil {
			out = append(out, pressure.MountSnapshot{Mount: mount, Unavailable: true})
			continue
		}
		out = append(out, pressure.MountSnapshot{
			Mount:      st.MountPoint,
			FreePct:    st.FreePct(),
			TotalBytes: st.TotalBytes,
			AvailBytes: st.AvailableBytes,
			RAMBacked:  st.RAMBacked,
			ReadOnly:   st.ReadOnly,
			Trend:      "stable",
		})
	}
	return out
}

func (a *StateAdapter) ballastInventory() []ballast.File {
	if a.ballastDir == "" || a.ballastN == 0 {
		return nil
	}
	pool := ballast.NewPool(a.ballastDir, a.ballastN, a.ballastSz, quietPoolLogger())
	return pool.Inventory()
}

// knownStateFields are the top-level keys this reader understands.
var knownStateFields = map[string]struct{}{
	"version": {}, "run_id": {}, "pid": {}, "started_at": {},
	"uptime_seconds": {}, "last_updated": {}, "pressure": {},
	"ballast": {}, "last_scan": {}, "counters": {}, "memory_rss_bytes": {},
}

// fieldWarnings diffs the file's top-level keys against the known
// schema; drift is a warning surface, never an error.
func fieldWarnings(path string) FieldWarnings {
	var w FieldWarnings
	raw, err := os.ReadFile(path)
	if err != nil {
		return w
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return w
	}
	for key := range doc {
		if _, ok := knownStateFields[key]; !ok {
			w.Unknown = append(w.Unknown, key)
		}
	}
	for key := range knownStateFields {
		if _, ok := doc[key]; !ok {
			w.Missing = append(w.Missing, key)
		}
	}
	sort.Strings(w.Unknown)
	sort.Strings(w.Missing)
	return w
}
