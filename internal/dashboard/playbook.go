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

// IncidentSeverity is the operator-facing collapse of the five
// pressure levels.
type IncidentSeverity int

const (
	SeverityNormal IncidentSeverity = iota
	SeverityElevated
	SeverityHigh
	SeverityCritical
)

func (s IncidentSeverity) String() string {
	switch s {
	case SeverityElevated:
		return "elevated"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// severityFromLevel maps the daemon's pressure level string onto the
// incident scale.
func severityFromLevel(level string) IncidentSeverity {
	switch level {
	case "yellow":
		return SeverityElevated
	case "orange":
		return SeverityHigh
	case "red", "critical":
		return SeverityCritical
	default:
		return SeverityNormal
	}
}

// PlaybookStep is one triage target: where to look, how to get there,
// and why.
type PlaybookStep struct {
	Screen    Screen
	Shortcut  string
	Rationale string
}

// playbook maps each severity to an ordered triage sequence. The table
// is static; severity selects the slice.
var playbook = map[IncidentSeverity][]PlaybookStep{
	SeverityElevated: {
		{ScreenOverview, "1", "confirm which mount is filling and how fast"},
		{ScreenTimeline, "2", "check for a recent burst of writes or failed deletions"},
		{ScreenCandidates, "4", "review what the scanner would reclaim"},
	},
	SeverityHigh: {
		{ScreenOverview, "1", "confirm pressure level and fill rate"},
		{ScreenBallast, "b", "check remaining ballast headroom"},
		{ScreenCandidates, "4", "largest reclaimable artifacts first"},
		{ScreenExplainability, "3", "verify recent decisions match expectations"},
	},
	SeverityCritical: {
		{ScreenBallast, "b", "release ballast now for instant headroom (x from Overview)"},
		{ScreenOverview, "1", "watch free % respond to the release"},
		{ScreenCandidates, "4", "queue the biggest deletions"},
		{ScreenDiagnostics, "7", "check for writer back-pressure or worker stalls"},
	},
}

// PlaybookFor returns the triage steps for a severity; empty for
// Normal.
func PlaybookFor(s IncidentSeverity) []PlaybookStep {
	return playbook[s]
}

// HintVerbosity controls contextual hint rendering.
type HintVerbosity string

const (
	HintsFull    HintVerbosity = "full"
	HintsMinimal HintVerbosity = "minimal"
	HintsOff     HintVerbosity = "off"
)
