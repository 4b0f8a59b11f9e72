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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLineCanonical(t *testing.T) {
	line := `{"ts":"2026-02-16T00:00:05Z","event":"scan_complete","severity":"info","duration_ms":412}`

	entry, recovered, err := DecodeLine([]byte(line))
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Equal(t, EventScanComplete, entry.Event)
	assert.Equal(t, SeverityInfo, entry.Severity)
	assert.Equal(t, int64(412), entry.DurationMS)
}

func TestDecodeLineLegacyAliases(t *testing.T) {
	line := `{"timestamp":"2026-02-16T00:00:05Z","event_type":"artifact_delete",` +
		`"level":"warning","target_path":"/old/build","size_bytes":999}`

	entry, recovered, err := DecodeLine([]byte(line))
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.Equal(t, "2026-02-16T00:00:05Z", entry.TS)
	assert.Equal(t, EventArtifactDelete, entry.Event)
	assert.Equal(t, SeverityWarning, entry.Severity)
	assert.Equal(t, "/old/build", entry.Path)
	assert.Equal(t, int64(999), entry.Size)
}

func TestDecodeLineCamelCaseEvents(t *testing.T) {
	line := `{"ts":"2026-02-16T00:00:05Z","event":"BallastRelease"}`

	entry, _, err := DecodeLine([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, EventBallastRelease, entry.Event)
}

func TestDecodeLineIgnoresUnknownFields(t *testing.T) {
	line := `{"ts":"2026-02-16T00:00:05Z","event":"daemon_start","future_field":{"a":1}}`

	entry, recovered, err := DecodeLine([]byte(line))
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Equal(t, EventDaemonStart, entry.Event)
}

func TestDecodeLineRejectsMissingRequiredFields(t *testing.T) {
	cases := []string{
		`{"event":"daemon_start"}`,
		`{"ts":"2026-02-16T00:00:05Z"}`,
		`{}`,
		`not json`,
	}
	for _, line := range cases {
		_, _, err := DecodeLine([]byte(line))
		assert.Error(t, err, "line %q must be rejected", line)
	}
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	entry := Entry{TS: "2026-02-16T00:00:05Z", Event: EventDaemonStart}
	data, err := entry.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ts":"2026-02-16T00:00:05Z","event":"daemon_start"}`, string(data))
}

func TestEntryFailed(t *testing.T) {
	ok := true
	bad := false
	assert.False(t, Entry{}.Failed())
	assert.False(t, Entry{OK: &ok}.Failed())
	assert.True(t, Entry{OK: &bad}.Failed())
}

func TestCanonicalSeverity(t *testing.T) {
	assert.Equal(t, SeverityWarning, canonicalSeverity("Warn"))
	assert.Equal(t, SeverityWarning, canonicalSeverity("WARNING"))
	assert.Equal(t, SeverityError, canonicalSeverity("error"))
	assert.Equal(t, Severity(""), canonicalSeverity(""))
	assert.Equal(t, SeverityInfo, canonicalSeverity("notice"))
}
