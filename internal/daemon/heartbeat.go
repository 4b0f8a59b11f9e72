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
	"fmt"
	"sync"
	"time"
)

// WorkerStatus classifies one monitored worker.
type WorkerStatus int

const (
	// WorkerRunning: beat seen within the threshold.
	WorkerRunning WorkerStatus = iota
	// WorkerStalled: alive but silent past the threshold.
	WorkerStalled
	// WorkerDead: exited with an error.
	WorkerDead
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerStalled:
		return "stalled"
	case WorkerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// WorkerReport is the self-monitor's view of one worker.
type WorkerReport struct {
	Name       string
	Status     WorkerStatus
	SilentFor  time.Duration
	Err        error
}

type heartbeat struct {
	lastBeat time.Time
	err      error
	dead     bool
}

// HeartbeatBoard tracks liveness of the daemon's worker goroutines
// (log writer, scanner pool). Workers beat; the self-monitor reads.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type HeartbeatBoard struct {
	mu        sync.Mutex
	threshold time.Duration
	workers   map[string]*heartbeat
}

// NewHeartbeatBoard creates a board with the given stall threshold.
func NewHeartbeatBoard(threshold time.Duration) *HeartbeatBoard {
	return &HeartbeatBoard{
		threshold: threshold,
		workers:   make(map[string]*heartbeat),
	}
}

// Register adds a worker with an initial beat.
func (b *HeartbeatBoard) Register(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers[name] = &heartbeat{lastBeat: time.Now()}
}

// Beat records liveness for name. Beating an unregistered name
// registers it.
func (b *HeartbeatBoard) Beat(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hb, ok := b.workers[name]
	if !ok {
		hb = &heartbeat{}
		b.workers[name] = hb
	}
	if !hb.dead {
		hb.lastBeat = time.Now()
	}
}

// ReportExit marks a worker dead. err may be nil for a clean exit, in
// which case the worker is simply removed from the board.
func (b *HeartbeatBoard) ReportExit(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.workers, name)
		return
	}
	hb, ok := b.workers[name]
	if !ok {
		hb = &heartbeat{}
		b.workers[name] = hb
	}
	hb.dead = true
	hb.err = err
}

// Check classifies every registered worker as of now.
func (b *HeartbeatBoard) Check(now time.Time) []WorkerReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]WorkerReport, 0, len(b.workers))
	for name, hb := range b.workers {
		report := WorkerReport{Name: name, SilentFor: now.Sub(hb.lastBeat)}
		switch {
		case hb.dead:
			report.Status = WorkerDead
			report.Err = hb.err
		case report.SilentFor > b.threshold:
			report.Status = WorkerStalled
		default:
			report.Status = WorkerRunning
		}
		out = append(out, report)
	}
	return out
}

// Unhealthy returns a describing error when any worker is stalled or
// dead, nil otherwise.
func (b *HeartbeatBoard) Unhealthy(now time.Time) error {
	for _, r := range b.Check(now) {
		switch r.Status {
		case WorkerDead:
			return fmt.Errorf("worker %s dead: %v", r.Name, r.Err)
		case WorkerStalled:
			return fmt.Errorf("worker %s stalled for %s", r.Name, r.SilentFor.Round(time.Second))
		}
	}
	return nil
}
