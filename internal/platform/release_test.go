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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripleAndAssetNames(t *testing.T) {
	cases := []struct {
		host  Host
		asset string
	}{
		{Host{OS: "linux", Arch: "amd64", Vendor: "unknown", ABI: "gnu"},
			"sbh-x86_64-unknown-linux-gnu.tar.xz"},
		{Host{OS: "linux", Arch: "arm64", Vendor: "unknown", ABI: "musl"},
			"sbh-aarch64-unknown-linux-musl.tar.xz"},
		{Host{OS: "darwin", Arch: "arm64", Vendor: "apple"},
			"sbh-aarch64-apple-darwin.tar.xz"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.asset, tc.host.AssetName())
		assert.Equal(t, tc.asset+".sha256", tc.host.ChecksumName())
	}
}

func TestReleaseURL(t *testing.T) {
	h := Host{OS: "linux", Arch: "amd64", Vendor: "unknown", ABI: "gnu"}
	url := h.ReleaseURL("AleutianAI/sbh", "v1.4.0")
	assert.Equal(t,
		"https://github.com/AleutianAI/sbh/releases/download/v1.4.0/sbh-x86_64-unknown-linux-gnu.tar.xz",
		url)
}

func TestMetadataCacheRoundTrip(t *testing.T) {
	cache := MetadataCache{
		Path: filepath.Join(t.TempDir(), "update.json"),
		TTL:  time.Hour,
	}

	_, ok := cache.Load()
	assert.False(t, ok, "missing cache must report stale")

	meta := UpdateMetadata{
		CheckedAt:     time.Now(),
		LatestTag:     "v1.4.0",
		LatestVersion: "1.4.0",
	}
	require.NoError(t, cache.Store(meta))

	got, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, "v1.4.0", got.LatestTag)
}

func TestMetadataCacheExpires(t *testing.T) {
	cache := MetadataCache{
		Path: filepath.Join(t.TempDir(), "update.json"),
		TTL:  time.Minute,
	}
	require.NoError(t, cache.Store(UpdateMetadata{
		CheckedAt: time.Now().Add(-2 * time.Minute),
		LatestTag: "v1.0.0",
	}))

	_, ok := cache.Load()
	assert.False(t, ok)
}

func TestFreePct(t *testing.T) {
	assert.InDelta(t, 25.0, FsStats{TotalBytes: 400, AvailableBytes: 100}.FreePct(), 1e-9)
	assert.Equal(t, 0.0, FsStats{}.FreePct())
}
