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
	"golang.org/x/sys/unix"
)

// Filesystem magic numbers we care to name. Anything else is reported
// as a hex literal, which is good enough for log lines.
var fsTypeNames = map[int64]string{
	0xef53:     "ext4",
	0x9123683e: "btrfs",
	0x58465342: "xfs",
	0x01021994: "tmpfs",
	0x858458f6: "ramfs",
	0x6969:     "nfs",
	0x65735546: "fuse",
	0x2fc12fc1: "zfs",
	0x4d44:     "vfat",
	0xf2f52010: "f2fs",
	0x794c7630: "overlayfs",
	0x73717368: "squashfs",
}

func statfsImpl(path string) (FsStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FsStats{}, err
	}

	magic := int64(st.Type)
	name, ok := fsTypeNames[magic]
	if !ok {
		name = "unknown"
	}

	bsize := uint64(st.Bsize)
	return FsStats{
		MountPoint:     path,
		TotalBytes:     st.Blocks * bsize,
		AvailableBytes: st.Bavail * bsize,
		FsType:         name,
		ReadOnly:       st.Flags&unix.ST_RDONLY != 0,
		RAMBacked:      magic == 0x01021994 || magic == 0x858458f6,
	}, nil
}
