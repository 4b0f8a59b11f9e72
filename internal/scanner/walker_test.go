// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWalker(t *testing.T, cfg WalkerConfig) *Walker {
	t.Helper()
	reg := mustRegistry(t)
	prot, err := NewProtection(nil)
	require.NoError(t, err)
	return NewWalker(cfg, reg, prot)
}

func walkPaths(entries []WalkedEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestWalkerCapturesDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644))

	w := newTestWalker(t, WalkerConfig{Roots: []string{root}, MaxDepth: 8, Parallelism: 2})
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a"),
		filepath.Join(root, "a", "b"),
		filepath.Join(root, "c"),
	}, walkPaths(entries))
}

func TestWalkerHonorsMaxDepth(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1", "2", "3"), 0o755))

	w := newTestWalker(t, WalkerConfig{Roots: []string{root}, MaxDepth: 2, Parallelism: 1})
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(root, "1"),
		filepath.Join(root, "1", "2"),
	}, walkPaths(entries))
}

func TestWalkerSkipsExcludedPrefix(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "keep", "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "skip", "sub"), 0o755))

	w := newTestWalker(t, WalkerConfig{
		Roots:         []string{root},
		MaxDepth:      8,
		Parallelism:   2,
		ExcludedPaths: []string{filepath.Join(root, "skip")},
	})
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(root, "keep"),
		filepath.Join(root, "keep", "sub"),
	}, walkPaths(entries))
}

func TestWalkerPrunesProtectedSubtree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "guarded", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "guarded", MarkerName), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "open"), 0o755))

	reg := mustRegistry(t)
	prot, err := NewProtection(nil)
	require.NoError(t, err)
	require.NoError(t, prot.DiscoverMarkers([]string{root}, 3))

	w := NewWalker(WalkerConfig{Roots: []string{root}, MaxDepth: 8, Parallelism: 2}, reg, prot)
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{filepath.Join(root, "open")}, walkPaths(entries))
}

func TestWalkerDoesNotDescendIntoArtifacts(t *testing.T) {
	proj := mkRustProject(t)
	root := filepath.Dir(proj)

	w := newTestWalker(t, WalkerConfig{Roots: []string{root}, MaxDepth: 8, Parallelism: 2})
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)

	var target *WalkedEntry
	for i := range entries {
		if filepath.Base(entries[i].Path) == "target" {
			target = &entries[i]
		}
		assert.NotEqual(t, "debug", filepath.Base(entries[i].Path),
			"artifact internals must not be walked")
	}
	require.NotNil(t, target)
	assert.True(t, target.Pruned)
	assert.True(t, target.Signals.Has(SignalManifestSibling))
}

func TestWalkerSkipsSymlinksByDefault(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "real")
	require.NoError(t, os.MkdirAll(real, 0o755))
	require.NoError(t, os.Symlink(real, filepath.Join(root, "link")))

	w := newTestWalker(t, WalkerConfig{Roots: []string{root}, MaxDepth: 8, Parallelism: 1})
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{real}, walkPaths(entries))
}

func TestWalkerMissingRootIsSkipped(t *testing.T) {
	w := newTestWalker(t, WalkerConfig{
		Roots:       []string{filepath.Join(t.TempDir(), "gone")},
		MaxDepth:    4,
		Parallelism: 2,
	})
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWalkerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))

	w := newTestWalker(t, WalkerConfig{Roots: []string{root}, MaxDepth: 4, Parallelism: 2})
	_, err := w.Walk(ctx)
	// Either the walk finished before noticing, or it reports the
	// cancellation; both are acceptable for an already-cancelled ctx.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestTreeSize(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b"), make([]byte, 250), 0o644))

	assert.Equal(t, int64(350), TreeSize(root))
	assert.Zero(t, TreeSize(filepath.Join(root, "missing")))
}
