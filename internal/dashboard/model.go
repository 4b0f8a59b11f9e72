// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dashboard implements the terminal dashboard as a strict
// Elm-style core: Model is a plain value, update is pure and returns
// effect descriptions, render is pure. A thin bubbletea runtime
// executes the effects and feeds messages back in.
//
// # Thread Safety
//
// The Model is mutated only by Update on the runtime goroutine. Do not
// share a Model across goroutines.
package dashboard

import (
	"sort"
	"time"

	"github.com/AleutianAI/sbh/internal/activity"
	"github.com/AleutianAI/sbh/internal/ballast"
	"github.com/AleutianAI/sbh/internal/scanner"
)

// Screen identifies one of the seven dashboard screens.
type Screen int

const (
	ScreenOverview Screen = iota
	ScreenTimeline
	ScreenExplainability
	ScreenCandidates
	ScreenBallast
	ScreenLogSearch
	ScreenDiagnostics

	screenCount = 7
)

func (s Screen) String() string {
	switch s {
	case ScreenOverview:
		return "Overview"
	case ScreenTimeline:
		return "Timeline"
	case ScreenExplainability:
		return "Explainability"
	case ScreenCandidates:
		return "Candidates"
	case ScreenBallast:
		return "Ballast"
	case ScreenLogSearch:
		return "Log Search"
	case ScreenDiagnostics:
		return "Diagnostics"
	default:
		return "Unknown"
	}
}

// Overlay identifies the modal layer above the current screen.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHelp
	OverlayCommandPalette
	OverlayVoi
	OverlayConfirmation
	OverlayIncidentPlaybook
)

// toggleKey returns the key that opens (and therefore also closes)
// the overlay.
func (o Overlay) toggleKey() string {
	switch o {
	case OverlayHelp:
		return "?"
	case OverlayCommandPalette:
		return ":"
	case OverlayVoi:
		return "v"
	case OverlayIncidentPlaybook:
		return "!"
	default:
		return ""
	}
}

// SeverityFilter cycles over the Timeline's severity cutoffs.
type SeverityFilter int

const (
	FilterAll SeverityFilter = iota
	FilterWarning
	FilterError

	severityFilterCount = 3
)

// Cycle advances to the next filter, wrapping.
func (f SeverityFilter) Cycle() SeverityFilter {
	return (f + 1) % severityFilterCount
}

func (f SeverityFilter) String() string {
	switch f {
	case FilterWarning:
		return "warning+"
	case FilterError:
		return "error"
	default:
		return "all"
	}
}

// SortOrder cycles over the Candidates screen orderings.
type SortOrder int

const (
	SortByScore SortOrder = iota
	SortBySize
	SortByPath

	sortOrderCount = 3
)

// Cycle advances to the next order, wrapping.
func (o SortOrder) Cycle() SortOrder {
	return (o + 1) % sortOrderCount
}

func (o SortOrder) String() string {
	switch o {
	case SortBySize:
		return "size"
	case SortByPath:
		return "path"
	default:
		return "score"
	}
}

// Bounds on the model's collections.
const (
	maxNotifications = 3
	maxFrameTimes    = 60
	maxRateSamples   = 30
	maxTimelineRows  = 500
)

// Notification is one transient banner message.
type Notification struct {
	ID      uint64
	Text    string
	Level   string
	Created time.Time
}

// Model is the dashboard's entire state: a plain owned value with no
// I/O handles.
type Model struct {
	Screen  Screen
	History []Screen
	Overlay Overlay

	Prefs UserPreferences

	// Data planes, refreshed by DataMsg / TelemetryMsg.
	State     StateResult
	Telemetry TelemetryResult
	Degraded  bool

	Timeline   []activity.Entry
	Decisions  []activity.Entry
	Candidates []scanner.CandidacyScore
	Ballast    []ballast.File

	// RateHistories keeps the last samples per mount for sparklines.
	RateHistories map[string][]float64

	Notifications []Notification
	nextNotifID   uint64

	// FrameTimes is a bounded ring of recent render durations.
	FrameTimes []time.Duration

	// Per-screen cursors, always clamped to the backing list.
	Cursors map[Screen]int

	// DetailOpen toggles the expanded row on list screens.
	DetailOpen bool

	Filter SeverityFilter
	Sort   SortOrder

	// SearchQuery is the LogSearch input line.
	SearchQuery string

	Width, Height int
	Quitting      bool
}

// NewModel builds the initial model. The start screen honors the
// preference policy; everything else starts empty and is filled by the
// first FetchData / FetchTelemetry round trip.
func NewModel(prefs UserPreferences) Model {
	return Model{
		Screen:        prefs.startScreen(),
		Prefs:         prefs,
		RateHistories: make(map[string][]float64),
		Cursors:       make(map[Screen]int),
		Degraded:      true,
	}
}

// Severity derives the incident severity from the current pressure
// aggregate.
func (m *Model) Severity() IncidentSeverity {
	return severityFromLevel(m.State.OverallLevel())
}

// pushNotification appends with FIFO eviction and returns the new
// notification's id. IDs are strictly monotonic for the model's life.
func (m *Model) pushNotification(text, level string, now time.Time) uint64 {
	m.nextNotifID++
	n := Notification{ID: m.nextNotifID, Text: text, Level: level, Created: now}
	m.Notifications = append(m.Notifications, n)
	if len(m.Notifications) > maxNotifications {
		m.Notifications = m.Notifications[len(m.Notifications)-maxNotifications:]
	}
	return n.ID
}

func (m *Model) expireNotification(id uint64) {
	kept := m.Notifications[:0]
	for _, n := range m.Notifications {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	m.Notifications = kept
}

// recordFrame appends to the bounded frame-time ring.
func (m *Model) recordFrame(d time.Duration) {
	m.FrameTimes = append(m.FrameTimes, d)
	if len(m.FrameTimes) > maxFrameTimes {
		m.FrameTimes = m.FrameTimes[len(m.FrameTimes)-maxFrameTimes:]
	}
}

// recordRates folds the latest mount snapshot into the history rings.
func (m *Model) recordRates() {
	for _, mount := range m.State.Mounts {
		hist := append(m.RateHistories[mount.Mount], mount.RateBPS)
		if len(hist) > maxRateSamples {
			hist = hist[len(hist)-maxRateSamples:]
		}
		m.RateHistories[mount.Mount] = hist
	}
}

// sortCandidates reorders the candidate list per the active order.
// Stable so equal keys keep their scan order.
func (m *Model) sortCandidates() {
	sort.SliceStable(m.Candidates, func(i, j int) bool {
		a, b := m.Candidates[i], m.Candidates[j]
		switch m.Sort {
		case SortBySize:
			return a.SizeBytes > b.SizeBytes
		case SortByPath:
			return a.Path < b.Path
		default:
			return a.TotalScore > b.TotalScore
		}
	})
}

// listLen returns the backing list length for cursor clamping on the
// current screen.
func (m *Model) listLen() int {
	switch m.Screen {
	case ScreenTimeline:
		return len(m.visibleTimeline())
	case ScreenExplainability:
		return len(m.Decisions)
	case ScreenCandidates:
		return len(m.Candidates)
	case ScreenBallast:
		return len(m.Ballast)
	case ScreenLogSearch:
		return len(m.Telemetry.Events)
	default:
		return 0
	}
}

// moveCursor shifts the current screen's cursor, clamped to the list.
func (m *Model) moveCursor(delta int) {
	n := m.listLen()
	cur := m.Cursors[m.Screen] + delta
	if cur < 0 {
		cur = 0
	}
	if n == 0 {
		cur = 0
	} else if cur >= n {
		cur = n - 1
	}
	m.Cursors[m.Screen] = cur
}

// clampCursors re-clamps every cursor after a data refresh shrinks a
// list.
func (m *Model) clampCursors() {
	saved := m.Screen
	for screen := range m.Cursors {
		m.Screen = screen
		m.moveCursor(0)
	}
	m.Screen = saved
}

// visibleTimeline applies the severity filter.
func (m *Model) visibleTimeline() []activity.Entry {
	if m.Filter == FilterAll {
		return m.Timeline
	}
	var out []activity.Entry
	for _, e := range m.Timeline {
		switch m.Filter {
		case FilterWarning:
			if e.Severity == activity.SeverityWarning || e.Severity == activity.SeverityError {
				out = append(out, e)
			}
		case FilterError:
			if e.Severity == activity.SeverityError {
				out = append(out, e)
			}
		}
	}
	return out
}

// navigate pushes the current screen onto history and switches.
func (m *Model) navigate(to Screen) {
	if to == m.Screen {
		return
	}
	m.History = append(m.History, m.Screen)
	m.Screen = to
	m.DetailOpen = false
}

// popHistory returns to the previous screen; reports false when the
// history is empty.
func (m *Model) popHistory() bool {
	if len(m.History) == 0 {
		return false
	}
	m.Screen = m.History[len(m.History)-1]
	m.History = m.History[:len(m.History)-1]
	m.DetailOpen = false
	return true
}

// cycleScreen moves delta screens with wraparound, without touching
// history (bracket navigation is lateral, not hierarchical).
func (m *Model) cycleScreen(delta int) {
	m.Screen = Screen((int(m.Screen) + delta + screenCount) % screenCount)
	m.DetailOpen = false
}
