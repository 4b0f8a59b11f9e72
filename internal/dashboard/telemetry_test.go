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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sbh/internal/activity"
)

// fakeProvider scripts each capability independently.
type fakeProvider struct {
	source    DataSource
	healthErr error

	events    []activity.Entry
	eventsErr error

	decisions    []activity.Entry
	decisionsErr error

	pressure    []activity.Entry
	pressureErr error
}

func (f *fakeProvider) RecentEvents(int) ([]activity.Entry, error) {
	return f.events, f.eventsErr
}
func (f *fakeProvider) RecentDecisions(int) ([]activity.Entry, error) {
	return f.decisions, f.decisionsErr
}
func (f *fakeProvider) PressureHistory(int) ([]activity.Entry, error) {
	return f.pressure, f.pressureErr
}
func (f *fakeProvider) Health() error      { return f.healthErr }
func (f *fakeProvider) Source() DataSource { return f.source }

func entryAt(n int, event activity.Event) activity.Entry {
	return activity.Entry{
		TS:    time.Date(2026, 1, 1, 0, 0, n, 0, time.UTC).Format(time.RFC3339),
		Event: event,
	}
}

func TestCompositePrefersFirstHealthyChild(t *testing.T) {
	sqlite := &fakeProvider{
		source: SourceSQLite,
		events: []activity.Entry{entryAt(1, activity.EventScanComplete)},
	}
	jsonl := &fakeProvider{source: SourceJSONL}

	res := NewComposite(sqlite, jsonl, NullProvider{}).Fetch(10)
	assert.Equal(t, SourceSQLite, res.Source)
	assert.False(t, res.Partial)
	assert.Len(t, res.Events, 1)
}

func TestCompositeFallsThroughUnhealthyChild(t *testing.T) {
	sqlite := &fakeProvider{source: SourceSQLite, healthErr: errors.New("locked")}
	jsonl := &fakeProvider{
		source: SourceJSONL,
		events: []activity.Entry{entryAt(1, activity.EventDaemonStart)},
	}

	res := NewComposite(sqlite, jsonl, NullProvider{}).Fetch(10)
	assert.Equal(t, SourceJSONL, res.Source)
	assert.Len(t, res.Events, 1)
}

func TestCompositePartialOnSingleCapabilityFailure(t *testing.T) {
	sqlite := &fakeProvider{
		source:       SourceSQLite,
		events:       []activity.Entry{entryAt(1, activity.EventScanComplete)},
		decisionsErr: errors.New("query failed"),
		pressure:     []activity.Entry{entryAt(2, activity.EventPressureChange)},
	}

	res := NewComposite(sqlite, NullProvider{}).Fetch(10)
	assert.Equal(t, SourceSQLite, res.Source)
	assert.True(t, res.Partial, "one failed capability marks the result partial")
	assert.Len(t, res.Events, 1)
	assert.Empty(t, res.Decisions)
	assert.Len(t, res.Pressure, 1)
}

func TestCompositeFallsThroughWhenAllCapabilitiesFail(t *testing.T) {
	broken := &fakeProvider{
		source:       SourceSQLite,
		eventsErr:    errors.New("a"),
		decisionsErr: errors.New("b"),
		pressureErr:  errors.New("c"),
	}
	jsonl := &fakeProvider{
		source: SourceJSONL,
		events: []activity.Entry{entryAt(1, activity.EventDaemonStart)},
	}

	res := NewComposite(broken, jsonl).Fetch(10)
	assert.Equal(t, SourceJSONL, res.Source)
	assert.False(t, res.Partial)
}

func TestCompositeEndsAtNull(t *testing.T) {
	res := NewComposite(NullProvider{}).Fetch(10)
	assert.Equal(t, SourceNull, res.Source)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Events)
}

func TestJSONLProviderShieldsLegacyAndMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.jsonl")
	content := `{"ts":"2026-01-01T00:00:01Z","event":"daemon_start"}
{"timestamp":"2026-01-01T00:00:02Z","event_type":"artifact_delete","target_path":"/tmp/x"}
this line is not json
{"ts":"2026-01-01T00:00:03Z","event":"pressure_change","severity":"warning"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := NewJSONLProvider(path)
	events, err := p.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3, "legacy line recovered, garbage dropped")
	assert.Equal(t, "recovered=1 dropped=1", p.Diagnostics())

	decisions, err := p.RecentDecisions(10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "/tmp/x", decisions[0].Path)
}

func TestJSONLProviderTailRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.jsonl")
	var content string
	for i := 0; i < 5; i++ {
		content += `{"ts":"2026-01-01T00:00:0` + string(rune('0'+i)) + `Z","event":"scan_complete"}` + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	events, err := NewJSONLProvider(path).RecentEvents(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2026-01-01T00:00:04Z", events[1].TS, "tail keeps the newest")
}

func TestJSONLProviderHealthFailsWhenAbsent(t *testing.T) {
	p := NewJSONLProvider(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, p.Health())
}

func TestSQLiteProviderReadsIndex(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "activity.db")

	idx, err := activity.OpenIndex(dbPath)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(entryAt(1, activity.EventScanComplete)))
	require.NoError(t, idx.Insert(entryAt(2, activity.EventArtifactDelete)))
	require.NoError(t, idx.Insert(entryAt(3, activity.EventPressureChange)))
	require.NoError(t, idx.Close())

	p, err := NewSQLiteProvider(dbPath)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Health())

	events, err := p.RecentEvents(10)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	decisions, err := p.RecentDecisions(10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, activity.EventArtifactDelete, decisions[0].Event)

	history, err := p.PressureHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, activity.EventPressureChange, history[0].Event)
}

func TestDefaultChainSkipsUnopenableIndex(t *testing.T) {
	dir := t.TempDir()
	jsonlPath := filepath.Join(dir, "activity.jsonl")
	require.NoError(t, os.WriteFile(jsonlPath,
		[]byte(`{"ts":"2026-01-01T00:00:01Z","event":"daemon_start"}`+"\n"), 0o644))

	chain := NewDefaultChain(filepath.Join(dir, "no-such.db"), jsonlPath)
	res := chain.Fetch(10)
	assert.Equal(t, SourceJSONL, res.Source)
	require.Len(t, res.Events, 1)
}
