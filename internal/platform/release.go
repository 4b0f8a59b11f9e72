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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Host identifies the OS, architecture and ABI triple of this build.
// Combined with a release channel it resolves the canonical asset and
// checksum names, which are interface contracts with the updater.
type Host struct {
	OS     string `json:"os"`
	Arch   string `json:"arch"`
	Vendor string `json:"vendor"`
	ABI    string `json:"abi"`
}

// DetectHost resolves the running host's triple.
func DetectHost() Host {
	h := Host{OS: runtime.GOOS, Arch: runtime.GOARCH}
	switch runtime.GOOS {
	case "darwin":
		h.Vendor = "apple"
		h.ABI = ""
	case "linux":
		h.Vendor = "unknown"
		h.ABI = "gnu"
		if isMusl() {
			h.ABI = "musl"
		}
	default:
		h.Vendor = "unknown"
	}
	return h
}

// archName maps Go architecture names onto the release triple vocabulary.
func (h Host) archName() string {
	switch h.Arch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return h.Arch
	}
}

// Triple renders the <arch>-<vendor>-<os>[-<abi>] string.
func (h Host) Triple() string {
	t := fmt.Sprintf("%s-%s-%s", h.archName(), h.Vendor, h.OS)
	if h.ABI != "" {
		t += "-" + h.ABI
	}
	return t
}

// AssetName returns the canonical release artifact name,
// "sbh-<triple>.tar.xz".
func (h Host) AssetName() string {
	return fmt.Sprintf("sbh-%s.tar.xz", h.Triple())
}

// ChecksumName returns the sidecar checksum file name.
func (h Host) ChecksumName() string {
	return h.AssetName() + ".sha256"
}

// ReleaseURL returns the GitHub download URL for the asset of tag.
func (h Host) ReleaseURL(repo, tag string) string {
	return fmt.Sprintf("https://github.com/%s/releases/download/%s/%s", repo, tag, h.AssetName())
}

func isMusl() bool {
	// Alpine and friends; a heuristic is all the updater needs because
	// a wrong guess surfaces as a checksum-name 404, never as a bad
	// binary.
	matches, _ := filepath.Glob("/lib/ld-musl-*")
	return len(matches) > 0
}

// =============================================================================
// Update metadata cache
// =============================================================================

// UpdateMetadata is the cached answer of the last release check.
type UpdateMetadata struct {
	CheckedAt     time.Time `json:"checked_at"`
	LatestTag     string    `json:"latest_tag"`
	LatestVersion string    `json:"latest_version"`
	AssetURL      string    `json:"asset_url"`
}

// MetadataCache persists UpdateMetadata with a TTL so the CLI can show
// "update available" without a network round-trip on every invocation.
type MetadataCache struct {
	Path string
	TTL  time.Duration
}

// Load returns the cached metadata if present and fresh.
// ok is false for a missing, malformed or expired cache.
func (c MetadataCache) Load() (meta UpdateMetadata, ok bool) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return UpdateMetadata{}, false
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return UpdateMetadata{}, false
	}
	if c.TTL > 0 && time.Since(meta.CheckedAt) > c.TTL {
		return UpdateMetadata{}, false
	}
	return meta, true
}

// Store atomically rewrites the cache.
func (c MetadataCache) Store(meta UpdateMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata cache: %w", err)
	}
	return os.Rename(tmp, c.Path)
}
