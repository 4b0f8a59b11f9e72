// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/internal/scanner"
)

func sampleState(uptime int64) DaemonState {
	return DaemonState{
		Version:       StateVersion,
		RunID:         "test-run",
		PID:           os.Getpid(),
		UptimeSeconds: uptime,
		Ballast:       BallastState{Available: 8, Total: 10, Released: 2},
	}
}

func TestWriteStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteState(path, sampleState(42)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	res := ReadState(path, time.Now())
	require.Equal(t, Fresh, res.Freshness)
	require.NotNil(t, res.State)
	assert.Equal(t, int64(42), res.State.UptimeSeconds)
	assert.Equal(t, 10, res.State.Ballast.Total)

	// No leftover tmp file.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

// Concurrent readers must always observe a complete snapshot, never an
// empty or half-written file.
func TestWriteStateAtomicUnderConcurrentReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteState(path, sampleState(0)))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if err := WriteState(path, sampleState(i)); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		res := ReadState(path, time.Now())
		require.Equal(t, Fresh, res.Freshness, "iteration %d: %v", i, res.Err)
		require.NotNil(t, res.State)
		assert.Equal(t, 10, res.State.Ballast.Total)
	}
	close(stop)
	wg.Wait()
}

func TestReadStateFreshnessBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteState(path, sampleState(1)))

	wrote := time.Now()
	require.NoError(t, os.Chtimes(path, wrote, wrote))

	atThreshold := ReadState(path, wrote.Add(StaleThreshold))
	assert.Equal(t, Fresh, atThreshold.Freshness, "exactly at the threshold is still fresh")

	past := ReadState(path, wrote.Add(StaleThreshold+time.Second))
	assert.Equal(t, Stale, past.Freshness)
	require.NotNil(t, past.State, "stale keeps the parsed snapshot")
	assert.InDelta(t, (StaleThreshold + time.Second).Seconds(), past.Age.Seconds(), 1)
}

func TestReadStateMissing(t *testing.T) {
	res := ReadState(filepath.Join(t.TempDir(), "nope.json"), time.Now())
	assert.Equal(t, Missing, res.Freshness)
	assert.Nil(t, res.State)
}

func TestReadStateMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	res := ReadState(path, time.Now())
	assert.Equal(t, Malformed, res.Freshness)
	assert.Nil(t, res.State)
	assert.Error(t, res.Err)
}

func TestStaleThresholdInvariant(t *testing.T) {
	assert.GreaterOrEqual(t, StaleThreshold, 2*StateWriteInterval)
}

func TestReadStateForwardCompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// A future writer with extra fields.
	raw := `{"version": 9, "pid": 1, "future_field": {"x": 1}, "ballast": {"total": 5}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	res := ReadState(path, time.Now())
	require.Equal(t, Fresh, res.Freshness)
	assert.Equal(t, 9, res.State.Version)
	assert.Equal(t, 5, res.State.Ballast.Total)
}

func TestScanSnapshotRoundTrip(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state", "state.json")
	path := ScanSnapshotPath(statePath)
	assert.Equal(t, filepath.Join(filepath.Dir(statePath), "last-scan.json"), path)

	snap := ScanSnapshot{
		At:      time.Now().UTC().Format(time.RFC3339),
		Urgency: 0.62,
		Candidates: []scanner.CandidacyScore{
			{Path: "/home/dev/app/target", Category: "rust_target",
				SizeBytes: 2 << 30, TotalScore: 0.91},
			{Path: "/home/dev/app/.venv", Category: "python_venv",
				SizeBytes: 200 << 20, TotalScore: 0.40,
				Vetoed: true, VetoReason: "recent access"},
		},
	}
	require.NoError(t, WriteScanSnapshot(path, snap))

	got, err := ReadScanSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "no tmp file left behind")
}

func TestReadScanSnapshotMissingIsEmpty(t *testing.T) {
	got, err := ReadScanSnapshot(filepath.Join(t.TempDir(), "last-scan.json"))
	require.NoError(t, err)
	assert.Empty(t, got.Candidates)
}

func TestReadScanSnapshotMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-scan.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))

	_, err := ReadScanSnapshot(path)
	assert.Error(t, err)
}
