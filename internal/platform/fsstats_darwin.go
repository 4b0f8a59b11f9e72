// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build darwin

package platform

import (
	"bytes"

	"golang.org/x/sys/unix"
)

func statfsImpl(path string) (FsStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FsStats{}, err
	}

	name := string(bytes.TrimRight(st.Fstypename[:], "\x00"))
	bsize := uint64(st.Bsize)
	return FsStats{
		MountPoint:     path,
		TotalBytes:     st.Blocks * bsize,
		AvailableBytes: st.Bavail * bsize,
		FsType:         name,
		ReadOnly:       st.Flags&unix.MNT_RDONLY != 0,
		RAMBacked:      name == "tmpfs",
	}, nil
}
