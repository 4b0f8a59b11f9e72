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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/internal/platform"
)

// scriptedStat replays a per-mount sequence of free percentages.
type scriptedStat struct {
	freePcts map[string][]float64
	calls    map[string]int
	errs     map[string]error
	ram      map[string]bool
}

func (s *scriptedStat) fn(path string) (platform.FsStats, error) {
	if err := s.errs[path]; err != nil {
		return platform.FsStats{}, err
	}
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	seq := s.freePcts[path]
	i := s.calls[path]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	s.calls[path]++

	total := uint64(1000) * gib
	return platform.FsStats{
		MountPoint:     path,
		TotalBytes:     total,
		AvailableBytes: uint64(float64(total) * seq[i] / 100),
		FsType:         "ext4",
		RAMBacked:      s.ram[path],
	}, nil
}

// The hysteresis walk from the design notes: thresholds 20/10/5/2,
// dead band 2. Samples 25, 18, 12, 9, 15, 22 produce exactly three
// transitions: green->yellow, yellow->orange, orange->yellow.
func TestMonitorHysteresisWalk(t *testing.T) {
	stat := &scriptedStat{freePcts: map[string][]float64{
		"/data": {25, 18, 12, 9, 15, 22},
	}}
	m := NewMonitor(testThresholds, 30*time.Second, []string{"/data"}, stat.fn)

	now := time.Now()
	var got []Transition
	for i := 0; i < 6; i++ {
		got = append(got, m.Tick(now.Add(time.Duration(i)*5*time.Second))...)
	}

	require.Len(t, got, 3)
	assert.Equal(t, Green, got[0].From)
	assert.Equal(t, Yellow, got[0].To)
	assert.Equal(t, Yellow, got[1].From)
	assert.Equal(t, Orange, got[1].To)
	assert.Equal(t, Orange, got[2].From)
	assert.Equal(t, Yellow, got[2].To)
}

func TestMonitorAtMostOneTransitionPerTick(t *testing.T) {
	stat := &scriptedStat{freePcts: map[string][]float64{
		"/data": {1, 50, 50, 50, 50, 50},
	}}
	m := NewMonitor(testThresholds, 30*time.Second, []string{"/data"}, stat.fn)

	now := time.Now()
	first := m.Tick(now)
	require.Len(t, first, 1)
	assert.Equal(t, Critical, first[0].To, "escalation jumps straight to the raw level")

	// Recovery steps down one band per tick.
	levels := []Level{Red, Orange, Yellow, Green}
	for i, want := range levels {
		trs := m.Tick(now.Add(time.Duration(i+1) * 5 * time.Second))
		require.Len(t, trs, 1)
		assert.Equal(t, want, trs[0].To)
	}
}

func TestMonitorOverallIsWorstMount(t *testing.T) {
	stat := &scriptedStat{freePcts: map[string][]float64{
		"/data": {50},
		"/scratch": {3},
	}}
	m := NewMonitor(testThresholds, 30*time.Second, []string{"/data", "/scratch"}, stat.fn)
	m.Tick(time.Now())

	assert.Equal(t, Red, m.Overall())
	assert.Equal(t, Red.Urgency(), m.Urgency())
}

func TestMonitorMissingMountDegradesAlone(t *testing.T) {
	stat := &scriptedStat{
		freePcts: map[string][]float64{"/data": {15}},
		errs:     map[string]error{"/gone": errors.New("no such file or directory")},
	}
	m := NewMonitor(testThresholds, 30*time.Second, []string{"/data", "/gone"}, stat.fn)
	m.Tick(time.Now())

	assert.Equal(t, Yellow, m.Overall(), "healthy mounts keep reporting")

	snaps := m.Snapshot()
	require.Len(t, snaps, 2)
	assert.False(t, snaps[0].Unavailable)
	assert.True(t, snaps[1].Unavailable)
}

func TestMonitorRAMBackedNeverReleaseEligible(t *testing.T) {
	stat := &scriptedStat{
		freePcts: map[string][]float64{"/tmp": {1}, "/data": {15}},
		ram:      map[string]bool{"/tmp": true},
	}
	m := NewMonitor(testThresholds, 30*time.Second, []string{"/tmp", "/data"}, stat.fn)
	m.Tick(time.Now())

	// /tmp is critical but RAM-backed; /data is only yellow.
	assert.Equal(t, Critical, m.Overall(), "ram-backed mounts still participate in the aggregate")
	assert.False(t, m.ReleaseEligible(Red))

	snaps := m.Snapshot()
	require.Len(t, snaps, 2)
	assert.True(t, snaps[1].RAMBacked)
}

func TestMonitorSnapshotSorted(t *testing.T) {
	stat := &scriptedStat{freePcts: map[string][]float64{
		"/b": {50}, "/a": {50},
	}}
	m := NewMonitor(testThresholds, 30*time.Second, []string{"/b", "/a"}, stat.fn)
	m.Tick(time.Now())

	snaps := m.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, "/a", snaps[0].Mount)
	assert.Equal(t, "/b", snaps[1].Mount)
}
