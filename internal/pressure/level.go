// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pressure implements the disk-pressure monitor: per-mount
// filesystem sampling, an EWMA fill-rate estimator, and the five-level
// hysteretic state machine that drives policy decisions.
package pressure

import "strings"

// Level is one of the five ordered pressure bands.
type Level int

const (
	Green Level = iota
	Yellow
	Orange
	Red
	Critical
)

// String returns the lowercase wire name of the level.
func (l Level) String() string {
	switch l {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Orange:
		return "orange"
	case Red:
		return "red"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseLevel maps a wire name back to a Level. Unknown names map to
// Green so that a malformed state file degrades to "calm", never to a
// spurious incident.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yellow":
		return Yellow
	case "orange":
		return Orange
	case "red":
		return Red
	case "critical":
		return Critical
	default:
		return Green
	}
}

// Urgency returns the level's urgency in [0,1]. It scales the scoring
// pressure multiplier and the ballast release count.
func (l Level) Urgency() float64 {
	switch l {
	case Yellow:
		return 0.25
	case Orange:
		return 0.5
	case Red:
		return 0.8
	case Critical:
		return 1.0
	default:
		return 0.0
	}
}

// Thresholds are the minimum free-space percentages of the four upper
// bands; anything below Red is Critical. Must be strictly decreasing.
type Thresholds struct {
	Green    float64
	Yellow   float64
	Orange   float64
	Red      float64
	DeadBand float64
}

// Classify maps a free-space percentage to its level. A value exactly
// at a threshold belongs to the better band (>= defines the band).
func (t Thresholds) Classify(freePct float64) Level {
	switch {
	case freePct >= t.Green:
		return Green
	case freePct >= t.Yellow:
		return Yellow
	case freePct >= t.Orange:
		return Orange
	case freePct >= t.Red:
		return Red
	default:
		return Critical
	}
}

// min returns the minimum free percentage of the given band.
func (t Thresholds) min(l Level) float64 {
	switch l {
	case Green:
		return t.Green
	case Yellow:
		return t.Yellow
	case Orange:
		return t.Orange
	case Red:
		return t.Red
	default:
		return 0
	}
}

// Next applies one hysteretic step from current given freePct.
//
// Escalations apply immediately, to the raw classification. A
// de-escalation goes one band at a time and requires the free space to
// clear the target band's ceiling plus the dead band, so a mount must
// be comfortably past a band before settling into it. For the Green
// target (no ceiling) the Green threshold itself bounds the band.
// At most one transition happens per call.
func (t Thresholds) Next(current Level, freePct float64) Level {
	raw := t.Classify(freePct)
	if raw > current {
		return raw
	}
	if raw < current {
		target := current - 1
		ceiling := t.Green
		if target > Green {
			ceiling = t.min(target - 1)
		}
		if freePct >= ceiling+t.DeadBand {
			return target
		}
	}
	return current
}
