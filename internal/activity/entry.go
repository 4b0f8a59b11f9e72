// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package activity implements the durable activity log: an append-only
// JSONL file written by a single writer goroutine, a derived SQLite
// index for fast queries, and the statistics engine computed over it.
//
// The JSONL file is the source of truth. The SQLite index is a pure
// projection and is rebuilt from the JSONL log whenever it falls
// behind (torn index after a crash).
package activity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Events and severities
// =============================================================================

// Event names a kind of activity-log record. Values are the wire
// representation (snake_case, stable).
type Event string

const (
	EventDaemonStart      Event = "daemon_start"
	EventDaemonStop       Event = "daemon_stop"
	EventPressureChange   Event = "pressure_change"
	EventArtifactDelete   Event = "artifact_delete"
	EventBallastRelease   Event = "ballast_release"
	EventBallastReplenish Event = "ballast_replenish"
	EventScanComplete     Event = "scan_complete"
	EventIntegrityCheck   Event = "integrity_check"
)

// Severity classifies a record. Values are the wire representation.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry is one activity-log record. Every field except TS and Event is
// optional; decoding tolerates absent fields so old logs stay readable
// and new fields can be added without breaking old readers.
type Entry struct {
	TS       string   `json:"ts"`
	Event    Event    `json:"event"`
	Severity Severity `json:"severity,omitempty"`

	Path       string             `json:"path,omitempty"`
	Size       int64              `json:"size,omitempty"`
	Score      float64            `json:"score,omitempty"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Category   string             `json:"category,omitempty"`
	AgeHours   float64            `json:"age_hours,omitempty"`
	Pressure   string             `json:"pressure,omitempty"`
	FreePct    float64            `json:"free_pct,omitempty"`
	RateBPS    float64            `json:"rate_bps,omitempty"`
	DurationMS int64              `json:"duration_ms,omitempty"`
	OK         *bool              `json:"ok,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
	ErrorMsg   string             `json:"error_message,omitempty"`
	MountPoint string             `json:"mount_point,omitempty"`
	Details    map[string]any     `json:"details,omitempty"`
}

// Time parses the TS field. The zero time is returned for an
// unparseable stamp; callers treat that like a record outside every
// window.
func (e Entry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.TS)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Failed reports whether the record carries an explicit ok=false.
func (e Entry) Failed() bool {
	return e.OK != nil && !*e.OK
}

// Encode renders the entry as one JSONL line (no trailing newline).
func (e Entry) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// Schema shield
// =============================================================================

// Legacy field aliases accepted by DecodeLine. Early SBH releases wrote
// these names; the shield maps them onto the current schema and counts
// the recovery.
//
//	timestamp   -> ts
//	event_type  -> event
//	level       -> severity
//	target_path -> path
//	size_bytes  -> size

// shieldedEntry adds the legacy alias fields next to the current ones.
type shieldedEntry struct {
	Entry

	LegacyTimestamp string   `json:"timestamp,omitempty"`
	LegacyEventType Event    `json:"event_type,omitempty"`
	LegacyLevel     Severity `json:"level,omitempty"`
	LegacyPath      string   `json:"target_path,omitempty"`
	LegacySize      int64    `json:"size_bytes,omitempty"`
}

// DecodeLine parses one JSONL line through the schema shield.
//
// # Outputs
//
//   - Entry: the decoded record, canonicalized
//   - recovered: true when a legacy alias supplied a canonical field
//   - error: malformed JSON, or a record with empty ts/event after
//     alias resolution (such lines are dropped by callers)
func DecodeLine(line []byte) (Entry, bool, error) {
	var raw shieldedEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, false, fmt.Errorf("malformed log line: %w", err)
	}

	recovered := false
	entry := raw.Entry
	if entry.TS == "" && raw.LegacyTimestamp != "" {
		entry.TS = raw.LegacyTimestamp
		recovered = true
	}
	if entry.Event == "" && raw.LegacyEventType != "" {
		entry.Event = raw.LegacyEventType
		recovered = true
	}
	if entry.Severity == "" && raw.LegacyLevel != "" {
		entry.Severity = raw.LegacyLevel
		recovered = true
	}
	if entry.Path == "" && raw.LegacyPath != "" {
		entry.Path = raw.LegacyPath
		recovered = true
	}
	if entry.Size == 0 && raw.LegacySize != 0 {
		entry.Size = raw.LegacySize
		recovered = true
	}

	entry.Event = canonicalEvent(entry.Event)
	entry.Severity = canonicalSeverity(entry.Severity)

	if entry.TS == "" || entry.Event == "" {
		return Entry{}, recovered, fmt.Errorf("log line missing ts or event")
	}
	return entry, recovered, nil
}

// canonicalEvent maps CamelCase spellings from very old logs onto the
// snake_case wire values.
func canonicalEvent(e Event) Event {
	switch e {
	case "DaemonStart":
		return EventDaemonStart
	case "DaemonStop":
		return EventDaemonStop
	case "PressureChange":
		return EventPressureChange
	case "ArtifactDelete":
		return EventArtifactDelete
	case "BallastRelease":
		return EventBallastRelease
	case "BallastReplenish":
		return EventBallastReplenish
	case "ScanComplete":
		return EventScanComplete
	case "IntegrityCheck":
		return EventIntegrityCheck
	default:
		return Event(strings.ToLower(string(e)))
	}
}

func canonicalSeverity(s Severity) Severity {
	switch strings.ToLower(string(s)) {
	case "debug":
		return SeverityDebug
	case "warn", "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	case "":
		return ""
	default:
		return SeverityInfo
	}
}
