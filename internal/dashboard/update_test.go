// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dashboard

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/internal/activity"
	"github.com/AleutianAI/sbh/internal/daemon"
	"github.com/AleutianAI/sbh/internal/pressure"
	"github.com/AleutianAI/sbh/internal/scanner"
)

func newTestModel() Model {
	return NewModel(DefaultPreferences())
}

func stateWithLevel(level string) StateResult {
	mounts := []pressure.MountSnapshot{
		{Mount: "/", Level: level, FreePct: 50, Trend: "stable"},
	}
	return StateResult{
		Freshness: daemon.Fresh,
		Source:    SourceDaemonState,
		Mounts:    mounts,
		State: &daemon.DaemonState{
			Version: daemon.StateVersion,
			Pressure: daemon.PressureState{
				Overall: level,
				Mounts:  mounts,
			},
		},
	}
}

func press(t *testing.T, m *Model, keys ...string) []Cmd {
	t.Helper()
	var last []Cmd
	for _, k := range keys {
		last = Update(m, KeyMsg{Key: k})
	}
	return last
}

// Healthy box, pressure goes red, operator runs the incident flow:
// playbook, quick-release, then unwinds back to a clean Overview.
func TestIncidentFlowUnderRedPressure(t *testing.T) {
	m := newTestModel()

	Update(&m, DataMsg{Result: stateWithLevel("green")})
	press(t, &m, "!")
	assert.Equal(t, OverlayNone, m.Overlay, "playbook must be inert while healthy")

	Update(&m, DataMsg{Result: stateWithLevel("red")})
	require.Equal(t, SeverityCritical, m.Severity())

	press(t, &m, "!")
	require.Equal(t, OverlayIncidentPlaybook, m.Overlay)

	press(t, &m, "x")
	assert.Equal(t, ScreenBallast, m.Screen)
	assert.Equal(t, OverlayConfirmation, m.Overlay)

	press(t, &m, "esc")
	assert.Equal(t, OverlayNone, m.Overlay)
	assert.Equal(t, ScreenBallast, m.Screen)

	press(t, &m, "esc")
	assert.Equal(t, ScreenOverview, m.Screen)
	assert.Equal(t, OverlayNone, m.Overlay)
}

func TestQuickReleaseRequiresHighSeverity(t *testing.T) {
	m := newTestModel()

	Update(&m, DataMsg{Result: stateWithLevel("yellow")})
	press(t, &m, "x")
	assert.Equal(t, ScreenOverview, m.Screen, "x is inert below high severity")
	assert.Equal(t, OverlayNone, m.Overlay)

	Update(&m, DataMsg{Result: stateWithLevel("orange")})
	press(t, &m, "x")
	assert.Equal(t, ScreenBallast, m.Screen)
	assert.Equal(t, OverlayConfirmation, m.Overlay)
}

func TestPlaybookNeedsElevatedSeverity(t *testing.T) {
	m := newTestModel()

	Update(&m, DataMsg{Result: stateWithLevel("yellow")})
	press(t, &m, "!")
	assert.Equal(t, OverlayIncidentPlaybook, m.Overlay)
}

func TestCtrlCQuitsEvenUnderOverlay(t *testing.T) {
	m := newTestModel()
	press(t, &m, "?")
	require.Equal(t, OverlayHelp, m.Overlay)

	cmds := press(t, &m, "ctrl+c")
	require.Len(t, cmds, 1)
	assert.IsType(t, Quit{}, cmds[0])
	assert.True(t, m.Quitting)
}

func TestOverlayConsumesScreenKeys(t *testing.T) {
	m := newTestModel()
	m.Timeline = []activity.Entry{{TS: "a"}, {TS: "b"}, {TS: "c"}}
	m.navigate(ScreenTimeline)

	press(t, &m, "?")
	press(t, &m, "j", "j", "f")
	assert.Equal(t, 0, m.Cursors[ScreenTimeline], "cursor must not move under an overlay")
	assert.Equal(t, FilterAll, m.Filter, "filter must not cycle under an overlay")

	press(t, &m, "?")
	assert.Equal(t, OverlayNone, m.Overlay, "toggle key closes its own overlay")
}

func TestEscQuitsFromEmptyHistory(t *testing.T) {
	m := newTestModel()
	cmds := press(t, &m, "esc")
	require.Len(t, cmds, 1)
	assert.IsType(t, Quit{}, cmds[0])
}

func TestDigitAndBracketNavigation(t *testing.T) {
	m := newTestModel()

	press(t, &m, "5")
	assert.Equal(t, ScreenBallast, m.Screen)

	press(t, &m, "esc")
	assert.Equal(t, ScreenOverview, m.Screen, "esc pops history")

	press(t, &m, "[")
	assert.Equal(t, ScreenDiagnostics, m.Screen, "bracket wraps backward")
	press(t, &m, "]")
	assert.Equal(t, ScreenOverview, m.Screen)
	press(t, &m, "]")
	assert.Equal(t, ScreenTimeline, m.Screen)
}

func TestNotificationsBoundedWithMonotonicIDs(t *testing.T) {
	m := newTestModel()
	now := time.Now()

	var ids []uint64
	for i := 0; i < 6; i++ {
		cmds := NotifyError(&m, fmt.Errorf("failure %d", i), now)
		require.Len(t, cmds, 1)
		exp, ok := cmds[0].(ScheduleNotificationExpiry)
		require.True(t, ok)
		ids = append(ids, exp.ID)
	}

	require.Len(t, m.Notifications, maxNotifications)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "ids are strictly monotonic")
	}
	assert.Equal(t, ids[3], m.Notifications[0].ID, "oldest evicted first")

	Update(&m, NotificationExpiredMsg{ID: ids[4]})
	require.Len(t, m.Notifications, 2)
	for _, n := range m.Notifications {
		assert.NotEqual(t, ids[4], n.ID)
	}
}

func TestFrameAndRateRingsBounded(t *testing.T) {
	m := newTestModel()

	for i := 0; i < maxFrameTimes+25; i++ {
		Update(&m, FrameMsg{Duration: time.Millisecond})
	}
	assert.Len(t, m.FrameTimes, maxFrameTimes)

	res := stateWithLevel("green")
	for i := 0; i < maxRateSamples+10; i++ {
		res.Mounts[0].RateBPS = float64(i)
		Update(&m, DataMsg{Result: res})
	}
	assert.Len(t, m.RateHistories["/"], maxRateSamples)
	assert.Equal(t, float64(maxRateSamples+9),
		m.RateHistories["/"][maxRateSamples-1], "newest sample kept")
}

func TestCursorClampsWhenListShrinks(t *testing.T) {
	m := newTestModel()
	m.navigate(ScreenTimeline)

	entries := []activity.Entry{{TS: "1"}, {TS: "2"}, {TS: "3"}, {TS: "4"}}
	Update(&m, TelemetryMsg{Result: TelemetryResult{Events: entries}})
	press(t, &m, "j", "j", "j")
	require.Equal(t, 3, m.Cursors[ScreenTimeline])

	Update(&m, TelemetryMsg{Result: TelemetryResult{Events: entries[:2]}})
	assert.Equal(t, 1, m.Cursors[ScreenTimeline])

	Update(&m, TelemetryMsg{Result: TelemetryResult{}})
	assert.Equal(t, 0, m.Cursors[ScreenTimeline])

	press(t, &m, "k")
	assert.Equal(t, 0, m.Cursors[ScreenTimeline], "cursor never goes negative")
}

func TestTimelineBounded(t *testing.T) {
	m := newTestModel()
	entries := make([]activity.Entry, maxTimelineRows+100)
	for i := range entries {
		entries[i] = activity.Entry{TS: fmt.Sprintf("t%d", i)}
	}
	Update(&m, TelemetryMsg{Result: TelemetryResult{Events: entries}})
	require.Len(t, m.Timeline, maxTimelineRows)
	assert.Equal(t, entries[100].TS, m.Timeline[0].TS, "oldest rows dropped")
}

func TestFilterAndSortCycleIdentity(t *testing.T) {
	f := FilterAll
	for i := 0; i < severityFilterCount; i++ {
		f = f.Cycle()
	}
	assert.Equal(t, FilterAll, f)

	s := SortByScore
	for i := 0; i < sortOrderCount; i++ {
		s = s.Cycle()
	}
	assert.Equal(t, SortByScore, s)
}

func TestSeverityFilterHidesLowerLevels(t *testing.T) {
	m := newTestModel()
	m.Timeline = []activity.Entry{
		{TS: "1", Severity: activity.SeverityInfo},
		{TS: "2", Severity: activity.SeverityWarning},
		{TS: "3", Severity: activity.SeverityError},
	}
	m.navigate(ScreenTimeline)

	press(t, &m, "f")
	assert.Len(t, m.visibleTimeline(), 2)
	press(t, &m, "f")
	assert.Len(t, m.visibleTimeline(), 1)
	press(t, &m, "f")
	assert.Len(t, m.visibleTimeline(), 3)
}

func TestDegradedTogglesOnDataArrivalOnly(t *testing.T) {
	m := newTestModel()
	assert.True(t, m.Degraded, "starts degraded until first data")

	NotifyError(&m, errors.New("adapter failed"), time.Now())
	assert.True(t, m.Degraded, "errors never leave degraded mode")

	Update(&m, DataMsg{Result: stateWithLevel("green")})
	assert.False(t, m.Degraded)

	NotifyError(&m, errors.New("adapter failed again"), time.Now())
	assert.False(t, m.Degraded, "errors never enter degraded mode")

	Update(&m, DataMsg{None: true})
	assert.True(t, m.Degraded)
}

func TestTickSchedulesRefreshRound(t *testing.T) {
	m := newTestModel()
	cmds := Update(&m, TickMsg{At: time.Now()})
	require.Len(t, cmds, 3)
	assert.IsType(t, FetchData{}, cmds[0])
	assert.IsType(t, FetchTelemetry{}, cmds[1])
	tick, ok := cmds[2].(ScheduleTick)
	require.True(t, ok)
	assert.Equal(t, m.Prefs.refreshInterval(), tick.After)
}

func TestSeverityFromLevelMapping(t *testing.T) {
	assert.Equal(t, SeverityNormal, severityFromLevel("green"))
	assert.Equal(t, SeverityElevated, severityFromLevel("yellow"))
	assert.Equal(t, SeverityHigh, severityFromLevel("orange"))
	assert.Equal(t, SeverityCritical, severityFromLevel("red"))
	assert.Equal(t, SeverityCritical, severityFromLevel("critical"))
	assert.Equal(t, SeverityNormal, severityFromLevel(""))
}

func TestPlaybookStepsPerSeverity(t *testing.T) {
	assert.Empty(t, PlaybookFor(SeverityNormal))
	for _, sev := range []IncidentSeverity{SeverityElevated, SeverityHigh, SeverityCritical} {
		assert.NotEmpty(t, PlaybookFor(sev), sev.String())
	}
	assert.Equal(t, ScreenBallast, PlaybookFor(SeverityCritical)[0].Screen,
		"critical playbook leads with ballast release")
}

func TestCandidateSortOrders(t *testing.T) {
	m := newTestModel()
	res := stateWithLevel("green")
	res.Candidates = []scanner.CandidacyScore{
		{Path: "/b/node_modules", SizeBytes: 3 << 30, TotalScore: 0.50},
		{Path: "/a/target", SizeBytes: 1 << 30, TotalScore: 0.90},
		{Path: "/c/.venv", SizeBytes: 2 << 30, TotalScore: 0.70},
	}
	Update(&m, DataMsg{Result: res})

	// Score order on arrival.
	assert.Equal(t, "/a/target", m.Candidates[0].Path)
	assert.Equal(t, "/c/.venv", m.Candidates[1].Path)

	m.Screen = ScreenCandidates
	press(t, &m, "s") // size, descending
	assert.Equal(t, SortBySize, m.Sort)
	assert.Equal(t, "/b/node_modules", m.Candidates[0].Path)

	press(t, &m, "s") // path, ascending
	assert.Equal(t, SortByPath, m.Sort)
	assert.Equal(t, "/a/target", m.Candidates[0].Path)
	assert.Equal(t, "/c/.venv", m.Candidates[2].Path)
}

func TestQuickReleaseOnlyFromOverview(t *testing.T) {
	m := newTestModel()
	Update(&m, DataMsg{Result: stateWithLevel("red")})

	press(t, &m, "2") // Timeline
	press(t, &m, "x")
	assert.Equal(t, ScreenTimeline, m.Screen, "x is inert off the Overview screen")
	assert.Equal(t, OverlayNone, m.Overlay)

	press(t, &m, "1")
	press(t, &m, "x")
	assert.Equal(t, ScreenBallast, m.Screen)
	assert.Equal(t, OverlayConfirmation, m.Overlay)
}
