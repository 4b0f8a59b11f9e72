// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package daemon

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/sbh/internal/activity"
	"github.com/AleutianAI/sbh/internal/ballast"
	"github.com/AleutianAI/sbh/internal/config"
	"github.com/AleutianAI/sbh/internal/platform"
	"github.com/AleutianAI/sbh/internal/pressure"
	"github.com/AleutianAI/sbh/internal/scanner"
	"github.com/AleutianAI/sbh/pkg/logging"
)

// circuitBreakerThreshold aborts a deletion batch after this many
// consecutive failures.
const circuitBreakerThreshold = 5

// Options are runtime switches not carried in the config file.
type Options struct {
	// MetricsAddr enables the Prometheus listener when non-empty.
	MetricsAddr string

	// DryRun scores and plans but never deletes or releases.
	DryRun bool

	// DrainDeadline bounds the log-queue flush at shutdown.
	DrainDeadline time.Duration
}

// Daemon is the owned value threaded through the event loop; there are
// no ambient singletons.
//
// # Thread Safety
//
// The event loop is single-threaded. The activity writer and the
// scanner worker pool run their own goroutines; everything else is
// confined to Run.
type Daemon struct {
	cfg    config.Config
	opts   Options
	logger *logging.Logger

	runID     string
	startedAt time.Time

	monitor  *pressure.Monitor
	pool     *ballast.Pool
	pipeline *scanner.Pipeline
	writer   *activity.Writer
	index    *activity.Index
	metrics  *Metrics
	board    *HeartbeatBoard
	watchdog *Watchdog

	counters       Counters
	lastScan       LastScan
	lastScanAt     time.Time
	lastStateAt    time.Time
	scanRequired   bool
	belowGreenSeen bool
}

// New wires the daemon from configuration. The activity index is
// reconciled against the JSONL log before the writer starts, so a torn
// index from a previous crash heals at boot.
func New(cfg config.Config, opts Options, logger *logging.Logger) (*Daemon, error) {
	if opts.DrainDeadline <= 0 {
		opts.DrainDeadline = 5 * time.Second
	}

	registry, err := scanner.BuiltinRegistry()
	if err != nil {
		return nil, fmt.Errorf("build pattern registry: %w", err)
	}
	if err := registry.LoadPacks(cfg.Paths.PatternsDir); err != nil {
		return nil, fmt.Errorf("load pattern packs: %w", err)
	}
	protection, err := scanner.NewProtection(cfg.Scanner.ProtectedPaths)
	if err != nil {
		return nil, fmt.Errorf("build protection registry: %w", err)
	}

	index, err := activity.OpenIndex(cfg.Logging.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open activity index: %w", err)
	}
	if err := index.Reconcile(cfg.Logging.JSONLPath, logger); err != nil {
		logger.Warn("activity index reconcile failed, continuing with JSONL only", "error", err)
	}

	// Worker goroutines beat their own heartbeats: the writer from its
	// drain loop, the scanner pool from its walk workers.
	board := NewHeartbeatBoard(3 * time.Duration(cfg.Pressure.TickSeconds*float64(time.Second)))
	writer, err := activity.NewWriter(activity.WriterConfig{
		Path:            cfg.Logging.JSONLPath,
		RotateSizeBytes: cfg.Logging.RotateSizeBytes,
		ChannelCapacity: cfg.Logging.ChannelCapacity,
		FlushEvery:      cfg.Logging.FlushEvery,
		FlushInterval:   time.Duration(cfg.Logging.FlushMillis) * time.Millisecond,
		Beat:            func() { board.Beat("log-writer") },
	}, index, logger)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("open activity writer: %w", err)
	}

	pipeline := scanner.NewPipeline(cfg, registry, protection, logger)
	pipeline.SetBeat(func() { board.Beat("scanner-pool") })

	d := &Daemon{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		runID:     uuid.NewString(),
		startedAt: time.Now(),
		monitor: pressure.NewMonitor(pressure.Thresholds{
			Green:    cfg.Pressure.GreenMinFreePct,
			Yellow:   cfg.Pressure.YellowMinFreePct,
			Orange:   cfg.Pressure.OrangeMinFreePct,
			Red:      cfg.Pressure.RedMinFreePct,
			DeadBand: cfg.Pressure.DeadBandPct,
		}, time.Duration(cfg.Pressure.RateHalfLifeSeconds*float64(time.Second)),
			cfg.Pressure.Mounts, nil),
		pool: ballast.NewPool(cfg.Ballast.Directory, cfg.Ballast.FileCount,
			cfg.Ballast.FileSizeBytes, logger),
		pipeline: pipeline,
		writer:   writer,
		index:    index,
		metrics:  NewMetrics(),
		board:    board,
		watchdog: NewWatchdog(time.Duration(cfg.Daemon.WatchdogIntervalSeconds) * time.Second),
	}
	return d, nil
}

// Run provisions ballast, starts the loop, and drains on ctx
// cancellation. Ballast is left in place at shutdown; it is the next
// boot's head start.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon starting",
		"run_id", d.runID, "pid", os.Getpid(),
		"mounts", d.cfg.Pressure.Mounts,
		"ballast_files", d.cfg.Ballast.FileCount)

	if !d.opts.DryRun {
		if _, err := d.pool.Provision(); err != nil {
			return fmt.Errorf("provision ballast: %w", err)
		}
		d.verifyBallast()
	}
	if err := d.pipeline.RefreshProtection(); err != nil {
		d.logger.Warn("protection discovery failed", "error", err)
		d.counters.Errors++
	}

	if d.opts.MetricsAddr != "" {
		go d.metrics.Serve(ctx, d.opts.MetricsAddr, d.logger)
	}
	d.board.Register("event-loop")
	d.board.Register("log-writer")
	d.watchdog.Ready()

	d.publish(activity.Entry{
		Event:    activity.EventDaemonStart,
		Severity: activity.SeverityInfo,
		Details: map[string]any{
			"run_id":        d.runID,
			"pid":           os.Getpid(),
			"config_mounts": d.cfg.Pressure.Mounts,
		},
	})

	interval := time.Duration(d.cfg.Pressure.TickSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case now := <-ticker.C:
			start := time.Now()
			d.tick(ctx, now)
			d.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// tick runs one loop iteration in the fixed order: pressure read,
// level transitions, ballast reactor, scan decision, deletions, state
// write.
func (d *Daemon) tick(ctx context.Context, now time.Time) {
	d.board.Beat("event-loop")
	d.watchdog.Ping(now)

	transitions := d.monitor.Tick(now)
	for _, tr := range transitions {
		if tr.To > tr.From {
			d.scanRequired = true
		}
		d.publish(activity.Entry{
			Event:      activity.EventPressureChange,
			Severity:   severityForLevel(tr.To),
			MountPoint: tr.Mount,
			Pressure:   tr.To.String(),
			FreePct:    tr.FreePct,
			RateBPS:    tr.RateBPS,
			Details:    map[string]any{"from": tr.From.String(), "to": tr.To.String()},
		})
	}

	d.reactBallast()
	d.maybeScan(ctx, now)
	d.updateMetrics()

	if err := d.board.Unhealthy(now); err != nil {
		d.logger.Warn("self-monitor", "error", err)
	}
	if now.Sub(d.lastStateAt) >= StateWriteInterval || d.lastStateAt.IsZero() {
		if err := WriteState(d.cfg.Paths.StateFile, d.snapshot(now)); err != nil {
			d.logger.Warn("state write failed", "error", err)
			d.counters.Errors++
		} else {
			d.lastStateAt = now
		}
	}
}

// verifyBallast runs one integrity pass at startup. Corruption is
// reported, never repaired: replacing a file an operator may want to
// inspect is their call.
func (d *Daemon) verifyBallast() {
	report := d.pool.Verify()
	ok := report.FilesCorrupted == 0
	severity := activity.SeverityInfo
	if !ok {
		severity = activity.SeverityError
		d.counters.Errors++
		d.logger.Error("ballast integrity check failed",
			"corrupted", report.FilesCorrupted, "details", report.Details)
	}
	d.publish(activity.Entry{
		Event:    activity.EventIntegrityCheck,
		Severity: severity,
		OK:       &ok,
		Details: map[string]any{
			"files_checked":   report.FilesChecked,
			"files_ok":        report.FilesOK,
			"files_corrupted": report.FilesCorrupted,
			"files_missing":   report.FilesMissing,
		},
	})
}

// reactBallast releases files proportional to urgency at red or worse
// and replenishes once the system has fully recovered to green.
func (d *Daemon) reactBallast() {
	overall := d.monitor.Overall()

	if overall >= pressure.Red && d.monitor.ReleaseEligible(pressure.Red) && !d.opts.DryRun {
		k := int(math.Ceil(float64(d.pool.Total()) * d.monitor.Urgency() * d.cfg.Ballast.ReleaseFraction))
		if k > d.pool.Available() {
			k = d.pool.Available()
		}
		if k > 0 {
			report, err := d.pool.Release(k)
			ok := err == nil && len(report.Errors) == 0
			d.counters.BytesFreed += uint64(report.BytesFreed)
			if !ok {
				d.counters.Errors++
			}
			d.belowGreenSeen = true
			d.metrics.BytesFreedTotal.Add(float64(report.BytesFreed))
			d.publish(activity.Entry{
				Event:    activity.EventBallastRelease,
				Severity: activity.SeverityWarning,
				Size:     report.BytesFreed,
				Pressure: overall.String(),
				OK:       &ok,
				Details: map[string]any{
					"files":           report.FilesReleased,
					"bytes_freed":     report.BytesFreed,
					"files_available": d.pool.Available(),
					"bytes_available": int64(d.pool.Available()) * d.pool.FileSize(),
					"errors":          report.Errors,
				},
			})
		}
		return
	}

	if overall >= pressure.Yellow {
		d.belowGreenSeen = true
	}
	if overall == pressure.Green && d.belowGreenSeen && d.pool.Released() > 0 && !d.opts.DryRun {
		created, err := d.pool.Replenish()
		ok := err == nil
		if !ok {
			d.counters.Errors++
			d.logger.Warn("ballast replenish failed", "error", err)
		}
		d.belowGreenSeen = false
		d.publish(activity.Entry{
			Event:    activity.EventBallastReplenish,
			Severity: activity.SeverityInfo,
			OK:       &ok,
			Details: map[string]any{
				"files":           created,
				"files_available": d.pool.Available(),
				"bytes_available": int64(d.pool.Available()) * d.pool.FileSize(),
			},
		})
	}
}

// maybeScan runs the pipeline when forced by an escalation or when the
// configured interval has elapsed, and executes deletions only under
// an active pressure signal.
func (d *Daemon) maybeScan(ctx context.Context, now time.Time) {
	interval := time.Duration(d.cfg.Scanner.IntervalMinutes) * time.Minute
	if !d.scanRequired && !d.lastScanAt.IsZero() && now.Sub(d.lastScanAt) < interval {
		return
	}
	d.scanRequired = false
	d.lastScanAt = now

	d.board.Beat("event-loop")
	// Scan workers are transient: on the board while the pass runs,
	// removed again by the clean exit.
	d.board.Register("scanner-pool")
	result, err := d.pipeline.Run(ctx, d.monitor.Urgency(), now)
	d.board.ReportExit("scanner-pool", err)
	if err != nil {
		d.counters.Errors++
		d.logger.Warn("scan failed", "error", err)
		return
	}
	d.counters.Scans++
	d.metrics.ScansTotal.Inc()
	d.lastScan = LastScan{At: now.UTC().Format(time.RFC3339), Candidates: result.TotalScored}

	if err := WriteScanSnapshot(ScanSnapshotPath(d.cfg.Paths.StateFile), ScanSnapshot{
		At:         d.lastScan.At,
		Urgency:    d.monitor.Urgency(),
		Candidates: result.Candidates,
	}); err != nil {
		d.logger.Warn("scan snapshot write failed", "error", err)
	}

	okScan := true
	d.publish(activity.Entry{
		Event:      activity.EventScanComplete,
		Severity:   activity.SeverityInfo,
		DurationMS: result.Duration.Milliseconds(),
		OK:         &okScan,
		Details: map[string]any{
			"dirs_walked": result.DirsWalked,
			"candidates":  result.TotalScored,
			"vetoed":      result.VetoedCount,
		},
	})

	// Enforce only under pressure: a green system records candidates
	// but deletes nothing.
	if d.monitor.Overall() < pressure.Yellow {
		return
	}
	d.executeDeletions(ctx, result)
}

func (d *Daemon) executeDeletions(ctx context.Context, result scanner.ScanResult) {
	cfg := scanner.DeletionConfig{
		MaxBatchSize:            d.cfg.Scanner.MaxDeleteBatch,
		DryRun:                  d.opts.DryRun,
		MinScore:                d.cfg.Scoring.MinScore,
		CheckOpenFiles:          true,
		CircuitBreakerThreshold: circuitBreakerThreshold,
	}
	plan := scanner.BuildPlan(result.Candidates, cfg)
	if plan.EstimatedItems == 0 {
		return
	}

	exec := scanner.NewExecutor(cfg, d.logger, func(c scanner.CandidacyScore, err error, dur time.Duration) {
		ok := err == nil
		entry := activity.Entry{
			Event:      activity.EventArtifactDelete,
			Severity:   activity.SeverityInfo,
			Path:       c.Path,
			Size:       c.SizeBytes,
			Score:      c.TotalScore,
			Factors:    factorMap(c.Factors),
			Category:   string(c.Category),
			AgeHours:   c.AgeHours,
			Pressure:   d.monitor.Overall().String(),
			DurationMS: dur.Milliseconds(),
			OK:         &ok,
		}
		if err != nil {
			entry.Severity = activity.SeverityWarning
			entry.ErrorMsg = err.Error()
		}
		d.publish(entry)
	})

	greenFloor := d.cfg.Pressure.GreenMinFreePct
	shouldStop := func() bool {
		for _, mount := range d.cfg.Pressure.Mounts {
			st, err := platform.Statfs(mount)
			if err == nil && st.FreePct() < greenFloor {
				return false
			}
		}
		return true
	}

	report := exec.Execute(ctx, plan, shouldStop)
	d.counters.Deletions += uint64(report.ItemsDeleted)
	d.counters.BytesFreed += uint64(report.BytesFreed)
	d.counters.Errors += uint64(report.ItemsFailed)
	d.lastScan.Deleted = report.ItemsDeleted
	d.metrics.DeletionsTotal.Add(float64(report.ItemsDeleted))
	d.metrics.BytesFreedTotal.Add(float64(report.BytesFreed))
	d.metrics.ErrorsTotal.Add(float64(report.ItemsFailed))
	if report.CircuitBreakerTripped {
		d.logger.Warn("deletion circuit breaker tripped",
			"failed", report.ItemsFailed, "deleted", report.ItemsDeleted)
	}
}

func (d *Daemon) updateMetrics() {
	d.metrics.BallastAvailable.Set(float64(d.pool.Available()))
	d.metrics.PressureLevel.Set(float64(d.monitor.Overall()))
	d.metrics.DroppedLogEvents.Set(float64(d.writer.Dropped()))
	for _, snap := range d.monitor.Snapshot() {
		if !snap.Unavailable {
			d.metrics.MountFreePct.WithLabelValues(snap.Mount).Set(snap.FreePct)
		}
	}
}

// snapshot assembles the state-file view of this daemon.
func (d *Daemon) snapshot(now time.Time) DaemonState {
	c := d.counters
	c.DroppedLogEvents = d.writer.Dropped()
	return DaemonState{
		Version:       StateVersion,
		RunID:         d.runID,
		PID:           os.Getpid(),
		StartedAt:     d.startedAt.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(now.Sub(d.startedAt).Seconds()),
		LastUpdated:   now.UTC().Format(time.RFC3339),
		Pressure: PressureState{
			Overall: d.monitor.Overall().String(),
			Urgency: d.monitor.Urgency(),
			Mounts:  d.monitor.Snapshot(),
		},
		Ballast: BallastState{
			Available: d.pool.Available(),
			Total:     d.pool.Total(),
			Released:  d.pool.Released(),
		},
		LastScan:       d.lastScan,
		Counters:       c,
		MemoryRSSBytes: rssBytes(),
	}
}

// publish enqueues an activity event; the writer stamps the monotonic
// timestamp. A full channel sheds the event and bumps the counter, the
// loop never blocks here. Liveness is the writer goroutine's own
// business: it beats the board from its drain loop.
func (d *Daemon) publish(e activity.Entry) {
	d.writer.Publish(e)
}

// shutdown drains the log queue, emits the stop event and writes the
// final state. Ballast is intentionally not released or replenished.
func (d *Daemon) shutdown() error {
	d.logger.Info("daemon stopping", "run_id", d.runID)
	d.publish(activity.Entry{
		Event:    activity.EventDaemonStop,
		Severity: activity.SeverityInfo,
		Details: map[string]any{
			"run_id":             d.runID,
			"uptime_seconds":     int64(time.Since(d.startedAt).Seconds()),
			"dropped_log_events": d.writer.Dropped(),
		},
	})

	if err := WriteState(d.cfg.Paths.StateFile, d.snapshot(time.Now())); err != nil {
		d.logger.Warn("final state write failed", "error", err)
	}
	d.watchdog.Close()
	err := d.writer.Close(d.opts.DrainDeadline)
	if cerr := d.index.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("drain activity log: %w", err)
	}
	return d.logger.Close()
}

func severityForLevel(l pressure.Level) activity.Severity {
	switch {
	case l >= pressure.Red:
		return activity.SeverityError
	case l >= pressure.Orange:
		return activity.SeverityWarning
	default:
		return activity.SeverityInfo
	}
}

func factorMap(f scanner.Factors) map[string]float64 {
	return map[string]float64{
		"location":            f.Location,
		"name":                f.Name,
		"age":                 f.Age,
		"size":                f.Size,
		"structure":           f.Structure,
		"pressure_multiplier": f.PressureMultiplier,
	}
}
