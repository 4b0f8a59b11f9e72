// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pressure

import (
	"sort"
	"time"

	"github.com/AleutianAI/sbh/internal/platform"
)

// StatFunc samples one mount. Injectable for tests; production uses
// platform.Statfs.
type StatFunc func(path string) (platform.FsStats, error)

// Transition reports one level change on one mount.
type Transition struct {
	Mount   string
	From    Level
	To      Level
	FreePct float64
	RateBPS float64
}

// MountSnapshot is the per-mount view exposed to the daemon state file
// and the dashboard.
type MountSnapshot struct {
	Mount       string    `json:"mount"`
	Level       string    `json:"level"`
	FreePct     float64   `json:"free_pct"`
	TotalBytes  uint64    `json:"total_bytes"`
	AvailBytes  uint64    `json:"available_bytes"`
	RateBPS     float64   `json:"rate_bps"`
	Trend       string    `json:"trend"`
	RAMBacked   bool      `json:"ram_backed,omitempty"`
	ReadOnly    bool      `json:"read_only,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
	RateHistory []float64 `json:"rate_history,omitempty"`
}

type mountState struct {
	level     Level
	estimator *RateEstimator
	stats     platform.FsStats
	err       error
}

// Monitor runs the hysteretic pressure state machine over a set of
// watched mounts.
//
// # Failure model
//
// A mount that cannot be statted degrades that mount only: it is
// marked unavailable and keeps its previous level out of the overall
// aggregate until it returns. The overall level is the maximum of the
// reachable mounts' levels.
//
// # Thread Safety
//
// Monitor is confined to the daemon event loop; it is not safe for
// concurrent use.
type Monitor struct {
	thresholds Thresholds
	halfLife   time.Duration
	statFn     StatFunc

	mounts []string
	states map[string]*mountState
}

// NewMonitor creates a monitor for the given mount points.
func NewMonitor(thresholds Thresholds, halfLife time.Duration, mounts []string, statFn StatFunc) *Monitor {
	if statFn == nil {
		statFn = platform.Statfs
	}
	m := &Monitor{
		thresholds: thresholds,
		halfLife:   halfLife,
		statFn:     statFn,
		mounts:     append([]string(nil), mounts...),
		states:     make(map[string]*mountState, len(mounts)),
	}
	for _, mount := range m.mounts {
		m.states[mount] = &mountState{
			level:     Green,
			estimator: NewRateEstimator(halfLife),
		}
	}
	return m
}

// Tick samples every mount once and applies at most one hysteretic
// step per mount. Returned transitions are the PressureChange events
// to emit; an unchanged level emits nothing.
func (m *Monitor) Tick(now time.Time) []Transition {
	var transitions []Transition
	for _, mount := range m.mounts {
		st := m.states[mount]
		stats, err := m.statFn(mount)
		if err != nil {
			st.err = err
			continue
		}
		st.err = nil
		st.stats = stats
		st.estimator.Observe(now, stats.AvailableBytes, stats.TotalBytes)

		next := m.thresholds.Next(st.level, stats.FreePct())
		if next != st.level {
			transitions = append(transitions, Transition{
				Mount:   mount,
				From:    st.level,
				To:      next,
				FreePct: stats.FreePct(),
				RateBPS: st.estimator.BytesPerSec(),
			})
			st.level = next
		}
	}
	return transitions
}

// Overall returns the worst level across reachable mounts.
func (m *Monitor) Overall() Level {
	overall := Green
	for _, mount := range m.mounts {
		st := m.states[mount]
		if st.err != nil {
			continue
		}
		if st.level > overall {
			overall = st.level
		}
	}
	return overall
}

// Urgency returns the overall level's urgency.
func (m *Monitor) Urgency() float64 {
	return m.Overall().Urgency()
}

// ReleaseEligible reports whether any reachable, disk-backed mount sits
// at or above the given level. RAM-backed mounts never trigger ballast
// release; they still participate in scanning.
func (m *Monitor) ReleaseEligible(at Level) bool {
	for _, mount := range m.mounts {
		st := m.states[mount]
		if st.err != nil || st.stats.RAMBacked {
			continue
		}
		if st.level >= at {
			return true
		}
	}
	return false
}

// Snapshot renders the per-mount view, sorted by mount path.
func (m *Monitor) Snapshot() []MountSnapshot {
	out := make([]MountSnapshot, 0, len(m.mounts))
	for _, mount := range m.mounts {
		st := m.states[mount]
		snap := MountSnapshot{
			Mount:       mount,
			Level:       st.level.String(),
			Unavailable: st.err != nil,
		}
		if st.err == nil {
			snap.FreePct = st.stats.FreePct()
			snap.TotalBytes = st.stats.TotalBytes
			snap.AvailBytes = st.stats.AvailableBytes
			snap.RateBPS = st.estimator.BytesPerSec()
			snap.Trend = string(st.estimator.Trend())
			snap.RAMBacked = st.stats.RAMBacked
			snap.ReadOnly = st.stats.ReadOnly
			snap.RateHistory = st.estimator.History()
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mount < out[j].Mount })
	return out
}
