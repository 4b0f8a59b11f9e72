// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package daemon composes the pressure monitor, ballast pool, scanner
// pipeline and activity log into the tick-driven event loop, and owns
// the daemon state file read by the CLI and the dashboard.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/AleutianAI/sbh/internal/pressure"
	"github.com/AleutianAI/sbh/internal/scanner"
)

const (
	// StateWriteInterval is the maximum cadence of state-file writes.
	StateWriteInterval = 30 * time.Second

	// StaleThreshold is the age past which readers treat the state
	// file as stale. Invariant: at least twice the write interval.
	StaleThreshold = 90 * time.Second

	// StateVersion identifies the snapshot schema.
	StateVersion = 1
)

// PressureState is the monitor's view embedded in the snapshot.
type PressureState struct {
	Overall string                   `json:"overall"`
	Urgency float64                  `json:"urgency"`
	Mounts  []pressure.MountSnapshot `json:"mounts"`
}

// BallastState is the pool inventory summary.
type BallastState struct {
	Available int `json:"available"`
	Total     int `json:"total"`
	Released  int `json:"released"`
}

// LastScan summarizes the most recent scan pass.
type LastScan struct {
	At         string `json:"at,omitempty"`
	Candidates int    `json:"candidates"`
	Deleted    int    `json:"deleted"`
}

// Counters are the daemon's lifetime counters.
type Counters struct {
	Scans            uint64 `json:"scans"`
	Deletions        uint64 `json:"deletions"`
	BytesFreed       uint64 `json:"bytes_freed"`
	Errors           uint64 `json:"errors"`
	DroppedLogEvents uint64 `json:"dropped_log_events"`
}

// DaemonState is the flat snapshot persisted for out-of-process
// readers. Every field decodes from absent to its zero value so old
// CLIs read new files and vice versa.
type DaemonState struct {
	Version        int           `json:"version"`
	RunID          string        `json:"run_id,omitempty"`
	PID            int           `json:"pid"`
	StartedAt      string        `json:"started_at,omitempty"`
	UptimeSeconds  int64         `json:"uptime_seconds"`
	LastUpdated    string        `json:"last_updated,omitempty"`
	Pressure       PressureState `json:"pressure"`
	Ballast        BallastState  `json:"ballast"`
	LastScan       LastScan      `json:"last_scan"`
	Counters       Counters      `json:"counters"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
}

// WriteState persists the snapshot atomically: sibling .tmp, fsync,
// rename, mode 0644 so unprivileged readers can open it. The file on
// disk is always a previous-complete or current-complete snapshot.
func WriteState(path string, st DaemonState) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode daemon state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open state tmp: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync state tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close state tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// ScanSnapshot is the last scan's full candidate list, written as a
// sidecar next to the state file so the dashboard's Candidates screen
// can show scores and vetoes without replaying the activity log.
type ScanSnapshot struct {
	At         string                   `json:"at"`
	Urgency    float64                  `json:"urgency"`
	Candidates []scanner.CandidacyScore `json:"candidates"`
}

// ScanSnapshotPath derives the sidecar path from the state file path.
func ScanSnapshotPath(statePath string) string {
	return filepath.Join(filepath.Dir(statePath), "last-scan.json")
}

// WriteScanSnapshot persists the sidecar with the same tmp+rename
// discipline as the state file. No fsync: losing a scan snapshot to a
// crash only costs one scan interval of dashboard detail.
func WriteScanSnapshot(path string, snap ScanSnapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scan snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write scan snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename scan snapshot: %w", err)
	}
	return nil
}

// ReadScanSnapshot loads the sidecar; a missing file is an empty
// snapshot, not an error.
func ReadScanSnapshot(path string) (ScanSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ScanSnapshot{}, nil
		}
		return ScanSnapshot{}, err
	}
	var snap ScanSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return ScanSnapshot{}, fmt.Errorf("decode scan snapshot: %w", err)
	}
	return snap, nil
}

// Freshness classifies a state file for readers.
type Freshness int

const (
	// Fresh: present, parseable, age <= StaleThreshold (exactly at the
	// threshold is still fresh).
	Fresh Freshness = iota
	// Stale: present and parseable but older than the threshold.
	Stale
	// Missing: no file.
	Missing
	// Malformed: present but not parseable as a snapshot.
	Malformed
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Missing:
		return "missing"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ReadResult is the outcome of ReadState. State is non-nil only for
// Fresh and Stale.
type ReadResult struct {
	Freshness Freshness
	Age       time.Duration
	State     *DaemonState
	Err       error
}

// ReadState loads and classifies the state file. It never returns a
// partial snapshot: the writer's rename discipline guarantees the file
// is complete whenever it exists.
func ReadState(path string, now time.Time) ReadResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{Freshness: Missing}
		}
		return ReadResult{Freshness: Missing, Err: err}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return ReadResult{Freshness: Malformed, Err: err}
	}
	var st DaemonState
	if err := json.Unmarshal(raw, &st); err != nil {
		return ReadResult{Freshness: Malformed, Err: err}
	}

	age := now.Sub(info.ModTime())
	if age < 0 {
		age = 0
	}
	res := ReadResult{Age: age, State: &st}
	if age > StaleThreshold {
		res.Freshness = Stale
	} else {
		res.Freshness = Fresh
	}
	return res
}

// rssBytes reports the process resident set, best effort. On Linux it
// reads /proc/self/statm; elsewhere it falls back to Go heap in-use.
func rssBytes() uint64 {
	if raw, err := os.ReadFile("/proc/self/statm"); err == nil {
		var size, resident uint64
		if _, err := fmt.Sscanf(string(raw), "%d %d", &size, &resident); err == nil {
			return resident * uint64(os.Getpagesize())
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
