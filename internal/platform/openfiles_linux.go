// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package platform

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OpenPIDs reports processes holding open file descriptors under dir.
//
// # Description
//
// Scans /proc/<pid>/fd symlink targets. The scan is best-effort:
// unreadable processes (permissions, races with exit) are skipped
// silently. An empty result means "no open files observed", not a
// guarantee; the deletion executor re-checks immediately before each
// removal anyway.
//
// # Inputs
//
//   - dir: absolute directory path; a process counts if any of its fds
//     resolves to dir or below
//
// # Outputs
//
//   - []int: pids with at least one open file under dir, ascending
func OpenPIDs(dir string) []int {
	procs, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	prefix := strings.TrimSuffix(dir, "/") + "/"
	var pids []int
	for _, proc := range procs {
		pid, err := strconv.Atoi(proc.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", proc.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if target == dir || strings.HasPrefix(target, prefix) {
				pids = append(pids, pid)
				break
			}
		}
	}
	return pids
}
