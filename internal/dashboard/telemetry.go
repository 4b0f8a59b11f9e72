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
	"bufio"
	"fmt"
	"os"

	"github.com/AleutianAI/sbh/internal/activity"
)

// DataSource tags where telemetry came from.
type DataSource string

const (
	SourceSQLite DataSource = "sqlite"
	SourceJSONL  DataSource = "jsonl"
	SourceNull   DataSource = "null"
)

// TelemetryResult is one fetch across the adapter chain. An empty
// non-partial result means "nothing has happened", a partial one means
// "some of what happened is missing"; the dashboard renders them
// differently.
type TelemetryResult struct {
	Events    []activity.Entry
	Decisions []activity.Entry
	Pressure  []activity.Entry
	Source    DataSource
	Partial   bool

	// Diagnostics carries schema-shield counters, e.g.
	// "recovered=2 dropped=1".
	Diagnostics string
}

// TelemetryProvider is the capability surface each backend implements.
type TelemetryProvider interface {
	RecentEvents(limit int) ([]activity.Entry, error)
	RecentDecisions(limit int) ([]activity.Entry, error)
	PressureHistory(limit int) ([]activity.Entry, error)
	Health() error
	Source() DataSource
}

// =============================================================================
// SQLite provider
// =============================================================================

// SQLiteProvider reads the activity index read-only.
type SQLiteProvider struct {
	index *activity.Index
}

// NewSQLiteProvider opens the index at path read-only. The returned
// provider owns the handle.
func NewSQLiteProvider(path string) (*SQLiteProvider, error) {
	idx, err := activity.OpenIndexReadOnly(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteProvider{index: idx}, nil
}

func (p *SQLiteProvider) RecentEvents(limit int) ([]activity.Entry, error) {
	return p.index.Recent(limit)
}

func (p *SQLiteProvider) RecentDecisions(limit int) ([]activity.Entry, error) {
	return p.index.RecentOfKind(activity.EventArtifactDelete, limit)
}

func (p *SQLiteProvider) PressureHistory(limit int) ([]activity.Entry, error) {
	return p.index.RecentOfKind(activity.EventPressureChange, limit)
}

func (p *SQLiteProvider) Health() error {
	_, err := p.index.Count()
	return err
}

func (p *SQLiteProvider) Source() DataSource { return SourceSQLite }

// Close releases the index handle.
func (p *SQLiteProvider) Close() error { return p.index.Close() }

// =============================================================================
// JSONL provider
// =============================================================================

// JSONLProvider tails the activity log directly, shielding legacy
// lines. It is the fallback when the index is unavailable.
type JSONLProvider struct {
	path string

	// Shield counters from the last read.
	recovered int
	dropped   int
}

// NewJSONLProvider wraps the log at path. The file may not exist yet.
func NewJSONLProvider(path string) *JSONLProvider {
	return &JSONLProvider{path: path}
}

func (p *JSONLProvider) readAll() ([]activity.Entry, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p.recovered, p.dropped = 0, 0
	var out []activity.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		e, recovered, err := activity.DecodeLine(line)
		if err != nil {
			p.dropped++
			continue
		}
		if recovered {
			p.recovered++
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func tail(entries []activity.Entry, limit int) []activity.Entry {
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}

func (p *JSONLProvider) RecentEvents(limit int) ([]activity.Entry, error) {
	entries, err := p.readAll()
	return tail(entries, limit), err
}

func (p *JSONLProvider) RecentDecisions(limit int) ([]activity.Entry, error) {
	return p.recentOfKind(activity.EventArtifactDelete, limit)
}

func (p *JSONLProvider) PressureHistory(limit int) ([]activity.Entry, error) {
	return p.recentOfKind(activity.EventPressureChange, limit)
}

func (p *JSONLProvider) recentOfKind(kind activity.Event, limit int) ([]activity.Entry, error) {
	entries, err := p.readAll()
	if err != nil {
		return nil, err
	}
	var out []activity.Entry
	for _, e := range entries {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return tail(out, limit), nil
}

func (p *JSONLProvider) Health() error {
	_, err := os.Stat(p.path)
	return err
}

func (p *JSONLProvider) Source() DataSource { return SourceJSONL }

// Diagnostics renders the shield counters from the last read.
func (p *JSONLProvider) Diagnostics() string {
	return fmt.Sprintf("recovered=%d dropped=%d", p.recovered, p.dropped)
}

// =============================================================================
// Null provider
// =============================================================================

// NullProvider always returns structured empties; the end of the
// fallback chain. Queries against it never fail.
type NullProvider struct{}

func (NullProvider) RecentEvents(int) ([]activity.Entry, error)    { return nil, nil }
func (NullProvider) RecentDecisions(int) ([]activity.Entry, error) { return nil, nil }
func (NullProvider) PressureHistory(int) ([]activity.Entry, error) { return nil, nil }
func (NullProvider) Health() error                                 { return nil }
func (NullProvider) Source() DataSource                            { return SourceNull }

// =============================================================================
// Composite
// =============================================================================

// Composite dispatches to the first healthy child in order, falling
// through on failure. The canonical chain is SQLite, JSONL, Null.
type Composite struct {
	children []TelemetryProvider
}

// NewComposite builds the chain in the given fallback order.
func NewComposite(children ...TelemetryProvider) *Composite {
	return &Composite{children: children}
}

// NewDefaultChain assembles SQLite -> JSONL -> Null from the
// configured paths, skipping the index when it cannot be opened.
func NewDefaultChain(sqlitePath, jsonlPath string) *Composite {
	var chain []TelemetryProvider
	if sqlite, err := NewSQLiteProvider(sqlitePath); err == nil {
		chain = append(chain, sqlite)
	}
	chain = append(chain, NewJSONLProvider(jsonlPath), NullProvider{})
	return NewComposite(chain...)
}

// Fetch queries all three capability surfaces from the first child
// that answers. Per-capability failures after a healthy start mark the
// result partial rather than failing the fetch; an absent log is an
// empty result, not an error.
func (c *Composite) Fetch(limit int) TelemetryResult {
	for _, child := range c.children {
		if err := child.Health(); err != nil {
			continue
		}

		res := TelemetryResult{Source: child.Source()}
		var failures int

		if events, err := child.RecentEvents(limit); err == nil {
			res.Events = events
		} else {
			failures++
		}
		if decisions, err := child.RecentDecisions(limit); err == nil {
			res.Decisions = decisions
		} else {
			failures++
		}
		if history, err := child.PressureHistory(limit); err == nil {
			res.Pressure = history
		} else {
			failures++
		}

		if failures == 3 {
			continue
		}
		res.Partial = failures > 0
		if j, ok := child.(*JSONLProvider); ok {
			res.Diagnostics = j.Diagnostics()
		}
		return res
	}
	return TelemetryResult{Source: SourceNull}
}
