// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package activity

import (
	"sort"
	"time"
)

// =============================================================================
// Windows
// =============================================================================

// Window is a named look-back period for statistics.
type Window struct {
	Name     string
	Duration time.Duration
}

// StandardWindows are the periods offered by the CLI and dashboard.
var StandardWindows = []Window{
	{"15m", 15 * time.Minute},
	{"1h", time.Hour},
	{"6h", 6 * time.Hour},
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
}

// WindowByName resolves a window name; ok is false for unknown names.
func WindowByName(name string) (Window, bool) {
	for _, w := range StandardWindows {
		if w.Name == name {
			return w, true
		}
	}
	return Window{}, false
}

// =============================================================================
// Result shapes
// =============================================================================

// DeletionStats summarizes artifact deletions inside a window.
type DeletionStats struct {
	Count              int     `json:"count"`
	TotalBytesFreed    int64   `json:"total_bytes_freed"`
	AvgSize            int64   `json:"avg_size"`
	MedianSize         int64   `json:"median_size"`
	AvgScore           float64 `json:"avg_score"`
	AvgAgeHours        float64 `json:"avg_age_hours"`
	Failures           int     `json:"failures"`
	LargestPath        string  `json:"largest_path"`
	LargestSize        int64   `json:"largest_size"`
	MostCommonCategory string  `json:"most_common_category"`
}

// BallastStats summarizes ballast pool movement inside a window.
// Inventory figures come from the most recent ballast event's details
// and reflect the state as of that event, not necessarily "now".
type BallastStats struct {
	FilesReleased    int   `json:"files_released"`
	FilesReplenished int   `json:"files_replenished"`
	CurrentInventory int   `json:"current_inventory"`
	BytesAvailable   int64 `json:"bytes_available"`
}

// PressureStats summarizes pressure behavior inside a window.
type PressureStats struct {
	CurrentLevel   string             `json:"current_level"`
	CurrentFreePct float64            `json:"current_free_pct"`
	WorstLevel     string             `json:"worst_level_reached"`
	Transitions    int                `json:"transitions"`
	TimeInLevelPct map[string]float64 `json:"time_in_level_pct"`
}

// WindowStats is the full statistics answer for one window.
type WindowStats struct {
	Window    string        `json:"window"`
	Deletions DeletionStats `json:"deletions"`
	Ballast   BallastStats  `json:"ballast"`
	Pressure  PressureStats `json:"pressure"`
}

// PatternTotal is one row of the top-patterns query.
type PatternTotal struct {
	Category   string `json:"category"`
	BytesFreed int64  `json:"bytes_freed"`
	Count      int    `json:"count"`
}

// =============================================================================
// Stats engine
// =============================================================================

// Stats computes windowed statistics over the SQLite index.
//
// Open the index read-only; the engine never writes.
type Stats struct {
	index *Index
}

// NewStats wraps an index handle.
func NewStats(index *Index) *Stats {
	return &Stats{index: index}
}

var levelRank = map[string]int{
	"green": 0, "yellow": 1, "orange": 2, "red": 3, "critical": 4,
}

// Compute produces WindowStats for the window ending at now.
//
// An empty window returns zeroed structures, never an error.
func (s *Stats) Compute(w Window, now time.Time) (WindowStats, error) {
	from := now.Add(-w.Duration)
	events, err := s.index.EventsBetween(from, now)
	if err != nil {
		return WindowStats{}, err
	}

	out := WindowStats{Window: w.Name}
	out.Deletions = deletionStats(events)
	out.Ballast = ballastStats(events)

	baseline, err := s.index.LastEventBefore(EventPressureChange, from)
	if err != nil {
		return WindowStats{}, err
	}
	out.Pressure = pressureStats(events, baseline, from, now)
	return out, nil
}

// TopPatterns returns the categories that freed the most bytes in the
// window, descending.
func (s *Stats) TopPatterns(w Window, now time.Time, n int) ([]PatternTotal, error) {
	from := now.Add(-w.Duration)
	rows, err := s.index.db.Query(`
		SELECT category, SUM(size), COUNT(*)
		FROM events
		WHERE event = ? AND ts >= ? AND ts < ? AND (ok IS NULL OR ok = 1)
		GROUP BY category ORDER BY SUM(size) DESC LIMIT ?`,
		string(EventArtifactDelete),
		from.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PatternTotal
	for rows.Next() {
		var p PatternTotal
		if err := rows.Scan(&p.Category, &p.BytesFreed, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TopDeletions returns the largest successful deletions in the window.
func (s *Stats) TopDeletions(w Window, now time.Time, n int) ([]Entry, error) {
	from := now.Add(-w.Duration)
	rows, err := s.index.db.Query(`
		SELECT ts, event, severity, path, mount_point, category, size, score,
		       age_hours, pressure, free_pct, rate_bps, duration_ms, ok,
		       error_code, error_message, details
		FROM events
		WHERE event = ? AND ts >= ? AND ts < ? AND (ok IS NULL OR ok = 1)
		ORDER BY size DESC LIMIT ?`,
		string(EventArtifactDelete),
		from.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano), n)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// =============================================================================
// Aggregation
// =============================================================================

func deletionStats(events []Entry) DeletionStats {
	var d DeletionStats
	var sizes []int64
	var scoreSum, ageSum float64
	categories := map[string]int{}

	for _, e := range events {
		if e.Event != EventArtifactDelete {
			continue
		}
		if e.Failed() {
			d.Failures++
			continue
		}
		d.Count++
		d.TotalBytesFreed += e.Size
		sizes = append(sizes, e.Size)
		scoreSum += e.Score
		ageSum += e.AgeHours
		if e.Category != "" {
			categories[e.Category]++
		}
		if e.Size > d.LargestSize {
			d.LargestSize = e.Size
			d.LargestPath = e.Path
		}
	}

	if d.Count > 0 {
		d.AvgSize = d.TotalBytesFreed / int64(d.Count)
		d.AvgScore = scoreSum / float64(d.Count)
		d.AvgAgeHours = ageSum / float64(d.Count)
		sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
		d.MedianSize = sizes[len(sizes)/2]
		if len(sizes)%2 == 0 {
			d.MedianSize = (sizes[len(sizes)/2-1] + sizes[len(sizes)/2]) / 2
		}
	}

	best := 0
	for cat, n := range categories {
		if n > best || (n == best && cat < d.MostCommonCategory) {
			best = n
			d.MostCommonCategory = cat
		}
	}
	return d
}

func ballastStats(events []Entry) BallastStats {
	var b BallastStats
	for _, e := range events {
		switch e.Event {
		case EventBallastRelease:
			b.FilesReleased += detailInt(e, "files")
		case EventBallastReplenish:
			b.FilesReplenished += detailInt(e, "files")
		default:
			continue
		}
		// Events run oldest-first; the last one wins. Keys mirror the
		// detail maps the daemon publishes on ballast events.
		b.CurrentInventory = detailInt(e, "files_available")
		b.BytesAvailable = int64(detailInt(e, "bytes_available"))
	}
	return b
}

func pressureStats(events []Entry, baseline *Entry, from, to time.Time) PressureStats {
	p := PressureStats{TimeInLevelPct: map[string]float64{}}

	level := "green"
	if baseline != nil && baseline.Pressure != "" {
		level = baseline.Pressure
	}
	p.CurrentLevel = level
	p.WorstLevel = level
	if baseline != nil {
		p.CurrentFreePct = baseline.FreePct
	}

	timeIn := map[string]time.Duration{}
	cursor := from
	for _, e := range events {
		if e.Event != EventPressureChange || e.Pressure == "" {
			continue
		}
		t := e.Time()
		if t.IsZero() {
			continue
		}
		timeIn[level] += t.Sub(cursor)
		cursor = t
		level = e.Pressure
		p.Transitions++
		p.CurrentLevel = level
		p.CurrentFreePct = e.FreePct
		if levelRank[level] > levelRank[p.WorstLevel] {
			p.WorstLevel = level
		}
	}
	timeIn[level] += to.Sub(cursor)

	total := to.Sub(from)
	if total > 0 {
		for lvl, d := range timeIn {
			p.TimeInLevelPct[lvl] = 100 * float64(d) / float64(total)
		}
	}
	return p
}

func detailInt(e Entry, key string) int {
	v, ok := e.Details[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
