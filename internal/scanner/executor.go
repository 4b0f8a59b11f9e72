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
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/sbh/internal/platform"
	"github.com/AleutianAI/sbh/pkg/logging"
)

// DeletionConfig bounds one execution batch.
type DeletionConfig struct {
	MaxBatchSize            int
	DryRun                  bool
	MinScore                float64
	CheckOpenFiles          bool
	CircuitBreakerThreshold int
}

// DeletionPlan is the ordered batch derived from a scored list:
// filter score >= MinScore and not vetoed, stable sort by
// (score desc, path asc), clamp to MaxBatchSize. Deterministic for a
// given scored list and config.
type DeletionPlan struct {
	Candidates            []CandidacyScore `json:"candidates"`
	EstimatedItems        int              `json:"estimated_items"`
	TotalReclaimableBytes int64            `json:"total_reclaimable_bytes"`
}

// DeletionError is one per-candidate failure. Recoverable errors are
// races (EBUSY, EACCES) worth retrying next cycle.
type DeletionError struct {
	Path        string `json:"path"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// DeletionReport is the outcome of one batch, partial progress
// included.
type DeletionReport struct {
	ItemsDeleted          int             `json:"items_deleted"`
	ItemsSkipped          int             `json:"items_skipped"`
	ItemsFailed           int             `json:"items_failed"`
	BytesFreed            int64           `json:"bytes_freed"`
	Errors                []DeletionError `json:"errors,omitempty"`
	Duration              time.Duration   `json:"duration"`
	DryRun                bool            `json:"dry_run"`
	CircuitBreakerTripped bool            `json:"circuit_breaker_tripped"`
}

// BuildPlan derives the deterministic deletion plan from a scored
// list.
func BuildPlan(scored []CandidacyScore, cfg DeletionConfig) DeletionPlan {
	var picked []CandidacyScore
	for _, c := range scored {
		if c.Vetoed || c.TotalScore < cfg.MinScore {
			continue
		}
		picked = append(picked, c)
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].TotalScore != picked[j].TotalScore {
			return picked[i].TotalScore > picked[j].TotalScore
		}
		return picked[i].Path < picked[j].Path
	})
	if cfg.MaxBatchSize > 0 && len(picked) > cfg.MaxBatchSize {
		picked = picked[:cfg.MaxBatchSize]
	}

	plan := DeletionPlan{Candidates: picked, EstimatedItems: len(picked)}
	for _, c := range picked {
		plan.TotalReclaimableBytes += c.SizeBytes
	}
	return plan
}

// Observer is called after each candidate attempt; the daemon wires it
// to the activity log. err is nil on success and on dry runs.
type Observer func(c CandidacyScore, err error, dur time.Duration)

// Executor runs deletion plans serially, one candidate at a time, so
// free-space accounting stays exact.
//
// # Description
//
// Each candidate is re-checked for open files before removal (the scan
// that scored it may be minutes old). Transient failures count toward
// the circuit breaker; the breaker aborts the batch after the
// configured number of consecutive failures. A caller-supplied
// shouldStop predicate runs between items so the daemon can stop as
// soon as the target free percentage is reached.
//
// # Thread Safety
//
// Executor is confined to the daemon event loop (or one CLI
// invocation).
type Executor struct {
	cfg      DeletionConfig
	logger   *logging.Logger
	observer Observer

	// openPIDs and removeAll are swappable for tests.
	openPIDs  func(string) []int
	removeAll func(string) error
}

// NewExecutor builds an executor. observer may be nil.
func NewExecutor(cfg DeletionConfig, logger *logging.Logger, observer Observer) *Executor {
	return &Executor{
		cfg:       cfg,
		logger:    logger,
		observer:  observer,
		openPIDs:  platform.OpenPIDs,
		removeAll: os.RemoveAll,
	}
}

// Execute runs the plan. shouldStop may be nil. The report always
// reflects partial progress; no candidate failure propagates as an
// error from Execute itself.
func (e *Executor) Execute(ctx context.Context, plan DeletionPlan, shouldStop func() bool) DeletionReport {
	start := time.Now()
	report := DeletionReport{DryRun: e.cfg.DryRun}
	breaker := newBatchBreaker(e.cfg.CircuitBreakerThreshold)

	for _, c := range plan.Candidates {
		if ctx.Err() != nil || (shouldStop != nil && shouldStop()) {
			break
		}
		if breaker.Tripped() {
			report.CircuitBreakerTripped = true
			break
		}

		itemStart := time.Now()
		err := e.deleteOne(c)
		dur := time.Since(itemStart)

		switch {
		case err == nil:
			report.ItemsDeleted++
			report.BytesFreed += c.SizeBytes
			breaker.Success()
		case errors.Is(err, fs.ErrNotExist):
			// Already gone; someone beat us to it.
			report.ItemsSkipped++
			breaker.Success()
			err = nil
		default:
			recoverable := errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EACCES) ||
				errors.Is(err, fs.ErrPermission)
			report.ItemsFailed++
			report.Errors = append(report.Errors, DeletionError{
				Path:        c.Path,
				Message:     err.Error(),
				Recoverable: recoverable,
			})
			if breaker.Fail() {
				report.CircuitBreakerTripped = true
			}
			e.logger.Warn("deletion failed",
				"path", c.Path, "error", err, "recoverable", recoverable)
		}

		if e.observer != nil {
			e.observer(c, err, dur)
		}
		if report.CircuitBreakerTripped {
			break
		}
	}

	report.Duration = time.Since(start)
	return report
}

func (e *Executor) deleteOne(c CandidacyScore) error {
	if e.cfg.CheckOpenFiles {
		if pids := e.openPIDs(c.Path); len(pids) > 0 {
			return unix.EBUSY
		}
	}
	if e.cfg.DryRun {
		e.logger.Info("dry run, would delete",
			"path", c.Path, "size", c.SizeBytes, "score", c.TotalScore)
		return nil
	}
	if _, err := os.Lstat(c.Path); err != nil {
		return err
	}
	return e.removeAll(c.Path)
}
