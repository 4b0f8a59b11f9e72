// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform wraps the host-specific syscalls SBH depends on:
// filesystem statistics, fast file allocation, and the open-file probe.
// It also owns the host/release naming contract consumed by the
// updater.
package platform

import (
	"fmt"
)

// FsStats describes one mounted filesystem at a point in time.
type FsStats struct {
	// MountPoint is the path the stats were taken for.
	MountPoint string `json:"mount_point"`

	// TotalBytes is the filesystem capacity.
	TotalBytes uint64 `json:"total_bytes"`

	// AvailableBytes is the space available to unprivileged callers.
	AvailableBytes uint64 `json:"available_bytes"`

	// FsType is the filesystem type name ("ext4", "tmpfs", ...).
	FsType string `json:"fs_type"`

	// ReadOnly reports a read-only mount.
	ReadOnly bool `json:"read_only"`

	// RAMBacked reports memory-backed filesystems (tmpfs, ramfs).
	// RAM-backed mounts never trigger ballast release.
	RAMBacked bool `json:"ram_backed"`
}

// FreePct returns available space as a percentage of capacity.
// A zero-capacity filesystem reports 0.
func (s FsStats) FreePct() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return 100 * float64(s.AvailableBytes) / float64(s.TotalBytes)
}

// Statfs collects FsStats for the filesystem containing path.
func Statfs(path string) (FsStats, error) {
	stats, err := statfsImpl(path)
	if err != nil {
		return FsStats{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stats, nil
}
