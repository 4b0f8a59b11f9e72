// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"fmt"
	"os"
)

// Allocate reserves size bytes for f, preferring the platform's fast
// preallocation primitive.
//
// On filesystems that reject preallocation (some network and
// copy-on-write mounts) it falls back to Truncate, which reserves the
// logical size without touching every block. Ballast integrity relies
// on the explicitly written header and trailer, not on the middle
// blocks being materialized.
func Allocate(f *os.File, size int64) error {
	if size <= 0 {
		return fmt.Errorf("allocate: non-positive size %d", size)
	}
	if err := allocateImpl(f, size); err == nil {
		return nil
	}
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("allocate fallback truncate: %w", err)
	}
	return nil
}
