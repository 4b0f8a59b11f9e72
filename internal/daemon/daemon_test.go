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
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/internal/activity"
	"github.com/AleutianAI/sbh/internal/ballast"
	"github.com/AleutianAI/sbh/internal/config"
	"github.com/AleutianAI/sbh/internal/platform"
	"github.com/AleutianAI/sbh/internal/pressure"
	"github.com/AleutianAI/sbh/internal/scanner"
	"github.com/AleutianAI/sbh/pkg/logging"
)

const testBallastSize = 4096

// scriptedStat replays a sequence of free percentages for one mount.
type scriptedStat struct {
	seq  []float64
	call int
}

func (s *scriptedStat) fn(path string) (platform.FsStats, error) {
	i := s.call
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	s.call++
	total := uint64(100) << 30
	return platform.FsStats{
		MountPoint:     path,
		TotalBytes:     total,
		AvailableBytes: uint64(float64(total) * s.seq[i] / 100),
		FsType:         "ext4",
	}, nil
}

// newTestDaemon assembles a daemon around a scripted mount, a tiny
// ballast pool and a throwaway activity log.
func newTestDaemon(t *testing.T, freeSeq []float64) *Daemon {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Pressure.Mounts = []string{"/data"}
	cfg.Paths.StateFile = filepath.Join(dir, "state.json")
	cfg.Ballast.Directory = filepath.Join(dir, "ballast")
	cfg.Ballast.FileCount = 10
	cfg.Scanner.RootPaths = []string{filepath.Join(dir, "scanroot")}
	require.NoError(t, os.MkdirAll(cfg.Scanner.RootPaths[0], 0o755))
	cfg.Logging.JSONLPath = filepath.Join(dir, "activity.jsonl")

	logger := logging.New(logging.Config{Quiet: true})
	stat := &scriptedStat{seq: freeSeq}

	registry, err := scanner.BuiltinRegistry()
	require.NoError(t, err)
	protection, err := scanner.NewProtection(nil)
	require.NoError(t, err)
	board := NewHeartbeatBoard(time.Minute)
	writer, err := activity.NewWriter(activity.WriterConfig{
		Path:            cfg.Logging.JSONLPath,
		RotateSizeBytes: 1 << 20,
		ChannelCapacity: 256,
		FlushInterval:   10 * time.Millisecond,
		Beat:            func() { board.Beat("log-writer") },
	}, nil, logger)
	require.NoError(t, err)
	pipeline := scanner.NewPipeline(cfg, registry, protection, logger)
	pipeline.SetBeat(func() { board.Beat("scanner-pool") })

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		runID:     "test-run",
		startedAt: time.Now(),
		monitor: pressure.NewMonitor(pressure.Thresholds{
			Green: 20, Yellow: 10, Orange: 5, Red: 2, DeadBand: 2,
		}, 30*time.Second, cfg.Pressure.Mounts, stat.fn),
		pool: ballast.NewPool(cfg.Ballast.Directory, cfg.Ballast.FileCount,
			testBallastSize, logger),
		pipeline: pipeline,
		writer:   writer,
		metrics:  NewMetrics(),
		board:    board,
	}
	t.Cleanup(func() { _ = writer.Close(time.Second) })
	return d
}

func readEvents(t *testing.T, d *Daemon) []activity.Entry {
	t.Helper()
	require.NoError(t, d.writer.Close(2*time.Second))

	f, err := os.Open(d.cfg.Logging.JSONLPath)
	require.NoError(t, err)
	defer f.Close()

	var out []activity.Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		e, _, err := activity.DecodeLine(sc.Bytes())
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func eventsOfKind(entries []activity.Entry, kind activity.Event) []activity.Entry {
	var out []activity.Entry
	for _, e := range entries {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

// Red pressure with urgency 0.8 over a 10-file pool and release
// fraction 0.5 releases ceil(10*0.8*0.5) = 4 files.
func TestBallastReleaseUnderRedPressure(t *testing.T) {
	d := newTestDaemon(t, []float64{3})
	_, err := d.pool.Provision()
	require.NoError(t, err)

	d.tick(context.Background(), time.Now())

	assert.Equal(t, 6, d.pool.Available())
	assert.Equal(t, 4, d.pool.Released())
	assert.Equal(t, d.pool.Total(), d.pool.Available()+d.pool.Released())

	events := readEvents(t, d)
	releases := eventsOfKind(events, activity.EventBallastRelease)
	require.Len(t, releases, 1)
	assert.Equal(t, int64(4*testBallastSize), releases[0].Size)
	assert.False(t, releases[0].Failed())
	assert.EqualValues(t, 6, releases[0].Details["files_available"])
	assert.EqualValues(t, 6*testBallastSize, releases[0].Details["bytes_available"])

	changes := eventsOfKind(events, activity.EventPressureChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "red", changes[0].Pressure)
}

// Recovery to green (stepping down one band per tick) triggers exactly
// one replenish that restores the full pool.
func TestBallastReplenishAfterRecovery(t *testing.T) {
	d := newTestDaemon(t, []float64{3, 15, 25, 30, 50, 50})
	_, err := d.pool.Provision()
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 6; i++ {
		d.tick(context.Background(), now.Add(time.Duration(i)*5*time.Second))
	}

	assert.Equal(t, 10, d.pool.Available())
	assert.Zero(t, d.pool.Released())

	events := readEvents(t, d)
	replenishes := eventsOfKind(events, activity.EventBallastReplenish)
	require.Len(t, replenishes, 1)
	assert.False(t, replenishes[0].Failed())
}

func TestScanGatingAndInterval(t *testing.T) {
	d := newTestDaemon(t, []float64{50})

	now := time.Now()
	d.tick(context.Background(), now)
	assert.EqualValues(t, 1, d.counters.Scans, "first tick always scans")

	d.tick(context.Background(), now.Add(5*time.Second))
	assert.EqualValues(t, 1, d.counters.Scans, "interval not elapsed, no rescan")

	d.tick(context.Background(), now.Add(time.Duration(d.cfg.Scanner.IntervalMinutes)*time.Minute+time.Minute))
	assert.EqualValues(t, 2, d.counters.Scans, "interval elapsed")
}

func TestEscalationForcesScan(t *testing.T) {
	d := newTestDaemon(t, []float64{50, 50, 8})

	now := time.Now()
	d.tick(context.Background(), now)
	d.tick(context.Background(), now.Add(5*time.Second))
	require.EqualValues(t, 1, d.counters.Scans)

	// Third tick escalates to orange; the scan runs despite the
	// interval not having elapsed.
	d.tick(context.Background(), now.Add(10*time.Second))
	assert.EqualValues(t, 2, d.counters.Scans)
}

func TestTickWritesStateFile(t *testing.T) {
	d := newTestDaemon(t, []float64{50})
	d.tick(context.Background(), time.Now())

	res := ReadState(d.cfg.Paths.StateFile, time.Now())
	require.Equal(t, Fresh, res.Freshness)
	assert.Equal(t, "test-run", res.State.RunID)
	assert.Equal(t, "green", res.State.Pressure.Overall)
	assert.Equal(t, 10, res.State.Ballast.Total)
	assert.EqualValues(t, 1, res.State.Counters.Scans)
}

func TestStateWriteCadence(t *testing.T) {
	d := newTestDaemon(t, []float64{50})
	now := time.Now()
	d.tick(context.Background(), now)

	first, err := os.Stat(d.cfg.Paths.StateFile)
	require.NoError(t, err)

	// Within the cadence window nothing is rewritten.
	d.tick(context.Background(), now.Add(5*time.Second))
	second, err := os.Stat(d.cfg.Paths.StateFile)
	require.NoError(t, err)
	assert.Equal(t, first.ModTime(), second.ModTime())

	d.tick(context.Background(), now.Add(StateWriteInterval+time.Second))
	third, err := os.Stat(d.cfg.Paths.StateFile)
	require.NoError(t, err)
	assert.NotEqual(t, first.ModTime(), third.ModTime())
}

func TestDryRunNeverReleases(t *testing.T) {
	d := newTestDaemon(t, []float64{3})
	d.opts.DryRun = true
	_, err := d.pool.Provision()
	require.NoError(t, err)

	d.tick(context.Background(), time.Now())

	assert.Equal(t, 10, d.pool.Available())
	events := readEvents(t, d)
	assert.Empty(t, eventsOfKind(events, activity.EventBallastRelease))
}

func TestStartupIntegrityCheckPublishes(t *testing.T) {
	d := newTestDaemon(t, []float64{50})
	_, err := d.pool.Provision()
	require.NoError(t, err)

	// Truncate one file to corrupt its trailer.
	require.NoError(t, os.Truncate(d.pool.Path(3), testBallastSize/2))

	d.verifyBallast()

	events := readEvents(t, d)
	checks := eventsOfKind(events, activity.EventIntegrityCheck)
	require.Len(t, checks, 1)
	require.NotNil(t, checks[0].OK)
	assert.False(t, *checks[0].OK)
	assert.Equal(t, activity.SeverityError, checks[0].Severity)
	assert.EqualValues(t, 1, d.counters.Errors)
}

func TestScanPoolHeartbeatIsTransient(t *testing.T) {
	d := newTestDaemon(t, []float64{50})
	d.tick(context.Background(), time.Now())
	require.EqualValues(t, 1, d.counters.Scans)

	statuses := map[string]WorkerStatus{}
	for _, r := range d.board.Check(time.Now()) {
		statuses[r.Name] = r.Status
	}
	_, onBoard := statuses["scanner-pool"]
	assert.False(t, onBoard, "scan workers leave the board after a clean pass")
	assert.Equal(t, WorkerRunning, statuses["event-loop"])
}

// The writer goroutine reports its own liveness from the drain loop;
// publishing alone must not stand in for it.
func TestWriterHeartbeatBeatenByDrainLoop(t *testing.T) {
	d := newTestDaemon(t, []float64{50})
	d.tick(context.Background(), time.Now())

	require.Eventually(t, func() bool {
		for _, r := range d.board.Check(time.Now()) {
			if r.Name == "log-writer" && r.Status == WorkerRunning {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
