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
	"time"

	"github.com/AleutianAI/sbh/internal/config"
	"github.com/AleutianAI/sbh/internal/platform"
	"github.com/AleutianAI/sbh/pkg/logging"
)

// ScanResult is one full pass: every scored candidate (vetoed ones
// included, for the dashboard), plus traversal counters.
type ScanResult struct {
	Candidates   []CandidacyScore `json:"candidates"`
	DirsWalked   int              `json:"dirs_walked"`
	DirsPruned   int              `json:"dirs_pruned"`
	TotalScored  int              `json:"total_scored"`
	VetoedCount  int              `json:"vetoed_count"`
	Duration     time.Duration    `json:"duration"`
}

// Pipeline wires walker, classifier, protection, and scorer into one
// scan pass. The executor stays separate: the daemon decides whether a
// scan's output becomes a deletion batch.
//
// # Thread Safety
//
// Pipeline is immutable once scanning starts; install any Beat
// callback before the first Run. Run may be called from the daemon
// loop or a CLI invocation, one at a time per receiver.
type Pipeline struct {
	scanCfg    config.ScannerConfig
	registry   *Registry
	protection *Protection
	scorer     *Scorer
	walker     *Walker
	logger     *logging.Logger
	beat       func()
}

// NewPipeline assembles the scan pass from configuration. The registry
// must already have any pattern packs loaded.
func NewPipeline(cfg config.Config, registry *Registry, protection *Protection, logger *logging.Logger) *Pipeline {
	walker := NewWalker(WalkerConfig{
		Roots:          cfg.Scanner.RootPaths,
		MaxDepth:       cfg.Scanner.MaxDepth,
		FollowSymlinks: cfg.Scanner.FollowSymlinks,
		CrossDevices:   cfg.Scanner.CrossDevices,
		ExcludedPaths:  cfg.Scanner.ExcludedPaths,
		Parallelism:    cfg.Scanner.Parallelism,
	}, registry, protection)

	return &Pipeline{
		scanCfg:    cfg.Scanner,
		registry:   registry,
		protection: protection,
		scorer:     NewScorer(cfg.Scoring, time.Duration(cfg.Scanner.MinFileAgeMinute)*time.Minute),
		walker:     walker,
		logger:     logger,
	}
}

// SetBeat installs a liveness callback invoked by the walk workers and
// the scoring loop while a pass runs. fn must be safe for concurrent
// use and must not block.
func (p *Pipeline) SetBeat(fn func()) {
	p.beat = fn
	p.walker.beat = fn
}

// Run executes walk -> classify -> size -> score. urgency comes from
// the pressure monitor; now anchors age computation so replayed scans
// are deterministic in tests.
func (p *Pipeline) Run(ctx context.Context, urgency float64, now time.Time) (ScanResult, error) {
	start := time.Now()

	entries, err := p.walker.Walk(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{DirsWalked: len(entries)}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !entry.Pruned {
			continue
		}
		result.DirsPruned++
		if p.beat != nil {
			p.beat()
		}

		cls := p.registry.Classify(entry.Path, entry.Signals)
		pids := platform.OpenPIDs(entry.Path)
		in := CandidateInput{
			Path:           entry.Path,
			SizeBytes:      TreeSize(entry.Path),
			Age:            now.Sub(entry.Modified),
			Classification: cls,
			Signals:        entry.Signals,
			IsOpen:         len(pids) > 0,
			OpenPIDs:       pids,
		}
		score := p.scorer.Score(in, urgency)
		if score.Vetoed {
			result.VetoedCount++
		}
		result.Candidates = append(result.Candidates, score)
	}

	result.TotalScored = len(result.Candidates)
	result.Duration = time.Since(start)
	p.logger.Info("scan complete",
		"dirs_walked", result.DirsWalked,
		"candidates", result.TotalScored,
		"vetoed", result.VetoedCount,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// RefreshProtection re-discovers protection markers from the scan
// roots. Called at daemon start and on the configured refresh cadence.
func (p *Pipeline) RefreshProtection() error {
	return p.protection.DiscoverMarkers(p.scanCfg.RootPaths, p.scanCfg.MarkerDepth)
}
