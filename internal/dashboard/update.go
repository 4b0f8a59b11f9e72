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
	"fmt"
	"time"
)

// Update is the pure core: it mutates the model and returns effect
// descriptions. It performs no I/O and reads no clocks beyond the
// times carried in messages.
func Update(m *Model, msg Msg) []Cmd {
	switch msg := msg.(type) {
	case KeyMsg:
		return updateKey(m, msg.Key)
	case TickMsg:
		return []Cmd{
			FetchData{},
			FetchTelemetry{},
			ScheduleTick{After: m.Prefs.refreshInterval()},
		}
	case DataMsg:
		return updateData(m, msg)
	case TelemetryMsg:
		m.Telemetry = msg.Result
		m.Timeline = boundEntries(msg.Result.Events, maxTimelineRows)
		m.Decisions = msg.Result.Decisions
		m.clampCursors()
		return nil
	case NotificationExpiredMsg:
		m.expireNotification(msg.ID)
		return nil
	case ResizeMsg:
		m.Width, m.Height = msg.Width, msg.Height
		return nil
	case FrameMsg:
		m.recordFrame(msg.Duration)
		return nil
	default:
		return nil
	}
}

func updateData(m *Model, msg DataMsg) []Cmd {
	// Degraded mode toggles on data arrival only: usable data leaves
	// it, an empty read enters it. Errors elsewhere merely notify.
	if msg.None {
		m.Degraded = true
		return nil
	}
	m.Degraded = false
	m.State = msg.Result
	m.Ballast = msg.Result.Ballast
	m.Candidates = msg.Result.Candidates
	m.sortCandidates()
	m.recordRates()
	m.clampCursors()
	return nil
}

// updateKey implements the input precedence order: Ctrl-C, overlays,
// quit keys, navigation, then screen-local keys.
func updateKey(m *Model, key string) []Cmd {
	if key == "ctrl+c" {
		m.Quitting = true
		return []Cmd{Quit{}}
	}

	if m.Overlay != OverlayNone {
		return updateOverlayKey(m, key)
	}

	switch key {
	case "q":
		m.Quitting = true
		return []Cmd{Quit{}}
	case "esc":
		if !m.popHistory() {
			m.Quitting = true
			return []Cmd{Quit{}}
		}
		return nil
	case "1", "2", "3", "4", "5", "6", "7":
		m.navigate(Screen(key[0] - '1'))
		return nil
	case "[":
		m.cycleScreen(-1)
		return nil
	case "]":
		m.cycleScreen(1)
		return nil
	case "b":
		m.navigate(ScreenBallast)
		return nil
	case "r":
		return []Cmd{FetchData{}, FetchTelemetry{}}
	case "?":
		m.Overlay = OverlayHelp
		return nil
	case "v":
		m.Overlay = OverlayVoi
		return nil
	case ":", "ctrl+p":
		m.Overlay = OverlayCommandPalette
		return nil
	case "!":
		if m.Severity() >= SeverityElevated {
			m.Overlay = OverlayIncidentPlaybook
		}
		return nil
	case "x":
		// Armed from Overview only; elsewhere x is an ordinary key so
		// list screens cannot trip a release by accident. The incident
		// playbook's own x shortcut is handled with the overlay keys.
		if m.Screen == ScreenOverview {
			return quickRelease(m)
		}
	}

	return updateScreenKey(m, key)
}

// updateOverlayKey consumes every key while an overlay is active.
// Esc and the overlay's own toggle key close it; the incident
// playbook additionally honors its quick-release shortcut.
func updateOverlayKey(m *Model, key string) []Cmd {
	if key == "esc" || (key != "" && key == m.Overlay.toggleKey()) {
		m.Overlay = OverlayNone
		return nil
	}
	if m.Overlay == OverlayIncidentPlaybook && key == "x" {
		m.Overlay = OverlayNone
		return quickRelease(m)
	}
	// Everything else is consumed; screen keys never leak through.
	return nil
}

// quickRelease jumps to the Ballast screen with a confirmation
// overlay. Only armed at high severity: on a healthy box x is inert.
func quickRelease(m *Model) []Cmd {
	if m.Severity() < SeverityHigh {
		return nil
	}
	if m.Screen != ScreenBallast {
		m.navigate(ScreenBallast)
	}
	m.Overlay = OverlayConfirmation
	return nil
}

func updateScreenKey(m *Model, key string) []Cmd {
	switch key {
	case "j", "down":
		m.moveCursor(1)
		return nil
	case "k", "up":
		m.moveCursor(-1)
		return nil
	case "enter", "space":
		if m.listLen() > 0 {
			m.DetailOpen = !m.DetailOpen
		}
		return nil
	}

	switch m.Screen {
	case ScreenTimeline:
		if key == "f" {
			m.Filter = m.Filter.Cycle()
			m.moveCursor(0)
		}
	case ScreenCandidates:
		if key == "s" {
			m.Sort = m.Sort.Cycle()
			m.sortCandidates()
			m.moveCursor(0)
		}
	}
	return nil
}

// NotifyError surfaces an adapter failure as a bounded notification
// and schedules its expiry. Errors never toggle degraded mode.
func NotifyError(m *Model, err error, now time.Time) []Cmd {
	id := m.pushNotification(fmt.Sprintf("adapter error: %v", err), "error", now)
	return []Cmd{ScheduleNotificationExpiry{ID: id, After: m.Prefs.notificationTimeout()}}
}

func boundEntries[T any](in []T, max int) []T {
	if len(in) <= max {
		return in
	}
	return in[len(in)-max:]
}
