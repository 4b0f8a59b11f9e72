// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package activity

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func TestWriterAppendsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	w, err := NewWriter(WriterConfig{Path: path, FlushInterval: 10 * time.Millisecond}, nil, quietLogger())
	require.NoError(t, err)

	require.True(t, w.Publish(Entry{Event: EventDaemonStart, Severity: SeverityInfo}))
	require.True(t, w.Publish(Entry{Event: EventScanComplete, Severity: SeverityInfo}))
	require.NoError(t, w.Close(time.Second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	first, _, err := DecodeLine([]byte(lines[0]))
	require.NoError(t, err)
	second, _, err := DecodeLine([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, EventDaemonStart, first.Event)
	assert.Equal(t, EventScanComplete, second.Event)
	assert.True(t, second.Time().After(first.Time()), "timestamps must be strictly monotonic")
}

func TestWriterTimestampsStrictlyMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	w, err := NewWriter(WriterConfig{Path: path}, nil, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.True(t, w.Publish(Entry{Event: EventIntegrityCheck}))
	}
	require.NoError(t, w.Close(time.Second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 100)

	var prev time.Time
	for _, line := range lines {
		e, _, err := DecodeLine([]byte(line))
		require.NoError(t, err)
		ts := e.Time()
		assert.True(t, ts.After(prev))
		prev = ts
	}
}

func TestWriterShedsLoadWhenChannelFull(t *testing.T) {
	// A writer that cannot drain: point it at a directory to make the
	// open fail is too harsh; instead use capacity 1 and flood faster
	// than the disk can be expected to keep up is racy. Deterministic
	// approach: publish after Close, which must always drop.
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	w, err := NewWriter(WriterConfig{Path: path, ChannelCapacity: 16}, nil, quietLogger())
	require.NoError(t, err)
	require.NoError(t, w.Close(time.Second))

	assert.False(t, w.Publish(Entry{Event: EventDaemonStop}))
	assert.Equal(t, uint64(1), w.Dropped())
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	w, err := NewWriter(WriterConfig{Path: path}, nil, quietLogger())
	require.NoError(t, err)
	require.NoError(t, w.Close(time.Second))
	require.NoError(t, w.Close(time.Second))
}

func TestWriterRotatesAtSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.jsonl")
	w, err := NewWriter(WriterConfig{
		Path:            path,
		RotateSizeBytes: 256,
		FlushEvery:      1,
	}, nil, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		require.True(t, w.Publish(Entry{
			Event: EventArtifactDelete,
			Path:  "/home/dev/project/target",
			Size:  123456789,
		}))
	}
	require.NoError(t, w.Close(time.Second))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	archives := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "activity-") {
			archives++
		}
	}
	assert.Greater(t, archives, 0, "expected at least one rotated archive")
}

// The drain loop reports its own liveness: per entry, and on idle
// flush ticks so a quiet daemon still reads as healthy.
func TestWriterBeatsFromItsOwnGoroutine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	var beats atomic.Int64
	w, err := NewWriter(WriterConfig{
		Path:          path,
		FlushInterval: 10 * time.Millisecond,
		Beat:          func() { beats.Add(1) },
	}, nil, quietLogger())
	require.NoError(t, err)
	defer w.Close(time.Second)

	require.True(t, w.Publish(Entry{Event: EventDaemonStart}))
	require.Eventually(t, func() bool { return beats.Load() >= 1 },
		time.Second, 5*time.Millisecond, "beat on drained entry")

	base := beats.Load()
	require.Eventually(t, func() bool { return beats.Load() > base },
		time.Second, 5*time.Millisecond, "beat on idle flush tick")
}
