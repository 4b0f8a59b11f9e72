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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/internal/config"
)

func TestPipelineScanFindsAndScoresArtifacts(t *testing.T) {
	proj := mkRustProject(t)
	root := filepath.Dir(proj)

	// Age the target directory past the minimum file age.
	old := time.Now().Add(-48 * time.Hour)
	target := filepath.Join(proj, "target")
	require.NoError(t, os.Chtimes(target, old, old))

	cfg := config.Default()
	cfg.Scanner.RootPaths = []string{root}
	cfg.Scoring.MinSizeBytes = 0

	reg := mustRegistry(t)
	prot, err := NewProtection(nil)
	require.NoError(t, err)
	p := NewPipeline(cfg, reg, prot, quietLogger())
	require.NoError(t, p.RefreshProtection())

	result, err := p.Run(context.Background(), 0.5, time.Now())
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	c := result.Candidates[0]
	assert.Equal(t, target, c.Path)
	assert.Equal(t, CategoryRustTarget, c.Category)
	assert.False(t, c.Vetoed)
	assert.InDelta(t, 1.25, c.Factors.PressureMultiplier, 1e-9)
	assert.Greater(t, result.DirsWalked, 1)
	assert.Equal(t, 1, result.DirsPruned)
}

func TestPipelineProtectedArtifactNeverScored(t *testing.T) {
	proj := mkRustProject(t)
	root := filepath.Dir(proj)
	require.NoError(t, os.WriteFile(filepath.Join(proj, MarkerName), nil, 0o644))

	cfg := config.Default()
	cfg.Scanner.RootPaths = []string{root}

	reg := mustRegistry(t)
	prot, err := NewProtection(nil)
	require.NoError(t, err)
	p := NewPipeline(cfg, reg, prot, quietLogger())
	require.NoError(t, p.RefreshProtection())

	result, err := p.Run(context.Background(), 0, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestPipelineVetoedCandidatesStillEmitted(t *testing.T) {
	proj := mkRustProject(t)
	root := filepath.Dir(proj)
	// Fresh target: vetoed by minimum age but still visible for the
	// dashboard.
	cfg := config.Default()
	cfg.Scanner.RootPaths = []string{root}
	cfg.Scoring.MinSizeBytes = 0

	reg := mustRegistry(t)
	prot, err := NewProtection(nil)
	require.NoError(t, err)
	p := NewPipeline(cfg, reg, prot, quietLogger())

	result, err := p.Run(context.Background(), 0, time.Now())
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	assert.True(t, result.Candidates[0].Vetoed)
	assert.Equal(t, 1, result.VetoedCount)
	assert.Equal(t, ActionKeep, result.Candidates[0].Action)
}

func TestPipelineBeatsDuringScan(t *testing.T) {
	proj := mkRustProject(t)
	root := filepath.Dir(proj)

	cfg := config.Default()
	cfg.Scanner.RootPaths = []string{root}

	reg := mustRegistry(t)
	prot, err := NewProtection(nil)
	require.NoError(t, err)
	p := NewPipeline(cfg, reg, prot, quietLogger())

	var beats atomic.Int64
	p.SetBeat(func() { beats.Add(1) })

	_, err = p.Run(context.Background(), 0.5, time.Now())
	require.NoError(t, err)
	assert.Positive(t, beats.Load(), "walk workers beat per visited directory")
}
