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
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/sbh/pkg/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT NOT NULL,
	event         TEXT NOT NULL,
	severity      TEXT,
	path          TEXT,
	mount_point   TEXT,
	category      TEXT,
	size          INTEGER,
	score         REAL,
	age_hours     REAL,
	pressure      TEXT,
	free_pct      REAL,
	rate_bps      REAL,
	duration_ms   INTEGER,
	ok            INTEGER,
	error_code    TEXT,
	error_message TEXT,
	details       TEXT,
	UNIQUE(ts, event) ON CONFLICT IGNORE
);
CREATE INDEX IF NOT EXISTS idx_events_ts          ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_event       ON events(event);
CREATE INDEX IF NOT EXISTS idx_events_severity    ON events(severity);
CREATE INDEX IF NOT EXISTS idx_events_path        ON events(path);
CREATE INDEX IF NOT EXISTS idx_events_mount_point ON events(mount_point);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Index is the SQLite mirror of the JSONL log.
//
// # Description
//
// The index is a pure projection: every row is derivable from a JSONL
// line, and the whole table can be rebuilt by replaying the log. A
// watermark in the meta table records how many lines of the active
// JSONL file have been indexed, so a torn index (crash between JSONL
// append and SQLite insert) is detected and repaired at startup.
//
// # Thread Safety
//
// The read-write Index belongs to the writer goroutine. Readers open
// their own read-only handle via OpenIndexReadOnly.
type Index struct {
	db   *sql.DB
	path string

	// indexedLines counts active-file lines reflected in the table.
	// Touched only by the owning goroutine.
	indexedLines int64
}

// OpenIndex opens (creating if needed) the read-write index at path.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// A single connection keeps all writes strictly ordered.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}

	idx := &Index{db: db, path: path}
	if v, err := idx.metaValue("jsonl_lines"); err == nil {
		idx.indexedLines, _ = strconv.ParseInt(v, 10, 64)
	}
	return idx, nil
}

// OpenIndexReadOnly opens a query-only handle for the stats engine and
// the dashboard telemetry adapter.
func OpenIndexReadOnly(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index unavailable: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open index read-only: %w", err)
	}
	return &Index{db: db, path: path}, nil
}

// Close releases the database handle.
func (x *Index) Close() error {
	return x.db.Close()
}

// Insert projects one entry into the events table. Duplicate (ts,
// event) pairs are ignored, which makes replay idempotent.
func (x *Index) Insert(e Entry) error {
	var details any
	if len(e.Details) > 0 || len(e.Factors) > 0 {
		blob := map[string]any{}
		for k, v := range e.Details {
			blob[k] = v
		}
		if len(e.Factors) > 0 {
			blob["factors"] = e.Factors
		}
		data, err := json.Marshal(blob)
		if err == nil {
			details = string(data)
		}
	}

	var ok any
	if e.OK != nil {
		if *e.OK {
			ok = 1
		} else {
			ok = 0
		}
	}

	_, err := x.db.Exec(`
		INSERT INTO events (ts, event, severity, path, mount_point, category,
			size, score, age_hours, pressure, free_pct, rate_bps, duration_ms,
			ok, error_code, error_message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TS, string(e.Event), string(e.Severity), e.Path, e.MountPoint, e.Category,
		e.Size, e.Score, e.AgeHours, e.Pressure, e.FreePct, e.RateBPS, e.DurationMS,
		ok, e.ErrorCode, e.ErrorMsg, details)
	if err != nil {
		return fmt.Errorf("index insert: %w", err)
	}
	x.indexedLines++
	return nil
}

// Count returns the number of indexed events.
func (x *Index) Count() (int64, error) {
	var n int64
	err := x.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// =============================================================================
// Torn-index detection and rebuild
// =============================================================================

// Reconcile repairs the index against the active JSONL file.
//
// Three cases:
//   - watermark == file lines: nothing to do
//   - watermark < file lines: the tail was appended while the index
//     was down (or the insert lost a race with a crash); replay the
//     missing lines
//   - watermark > file lines: the file rotated while the index was
//     down; reset the watermark and replay the whole file (duplicate
//     rows are ignored by the unique constraint)
func (x *Index) Reconcile(jsonlPath string, logger *logging.Logger) error {
	lines, err := countLines(jsonlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	start := x.indexedLines
	if start == lines {
		return nil
	}
	if start > lines {
		logger.Info("activity log rotated behind the index, replaying from start")
		start = 0
	}

	replayed, err := x.replayFrom(jsonlPath, start)
	if err != nil {
		return err
	}
	x.indexedLines = lines
	if err := x.SetIndexedLines(lines); err != nil {
		return err
	}
	if replayed > 0 {
		logger.Info("index rebuilt", "replayed", replayed)
	}
	return nil
}

func (x *Index) replayFrom(jsonlPath string, skip int64) (int, error) {
	f, err := os.Open(jsonlPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lineNo int64
	replayed := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= skip {
			continue
		}
		entry, _, err := DecodeLine(scanner.Bytes())
		if err != nil {
			// Malformed lines stay in the JSONL file but never make
			// it into the projection.
			continue
		}
		saved := x.indexedLines
		if err := x.Insert(entry); err != nil {
			return replayed, err
		}
		x.indexedLines = saved
		replayed++
	}
	return replayed, scanner.Err()
}

// SetIndexedLines persists the active-file watermark.
func (x *Index) SetIndexedLines(n int64) error {
	_, err := x.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('jsonl_lines', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(n, 10))
	return err
}

// ResetIndexedLines zeroes the watermark after a rotation.
func (x *Index) ResetIndexedLines() error {
	x.indexedLines = 0
	return x.SetIndexedLines(0)
}

func (x *Index) metaValue(key string) (string, error) {
	var v string
	err := x.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	return v, err
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var n int64
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// =============================================================================
// Queries
// =============================================================================

// Recent returns the newest events, newest first.
func (x *Index) Recent(limit int) ([]Entry, error) {
	rows, err := x.db.Query(`
		SELECT ts, event, severity, path, mount_point, category, size, score,
		       age_hours, pressure, free_pct, rate_bps, duration_ms, ok,
		       error_code, error_message, details
		FROM events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// RecentOfKind returns the newest events of one kind, newest first.
func (x *Index) RecentOfKind(kind Event, limit int) ([]Entry, error) {
	rows, err := x.db.Query(`
		SELECT ts, event, severity, path, mount_point, category, size, score,
		       age_hours, pressure, free_pct, rate_bps, duration_ms, ok,
		       error_code, error_message, details
		FROM events WHERE event = ? ORDER BY ts DESC LIMIT ?`,
		string(kind), limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// EventsBetween returns events with from <= ts < to, oldest first.
func (x *Index) EventsBetween(from, to time.Time) ([]Entry, error) {
	rows, err := x.db.Query(`
		SELECT ts, event, severity, path, mount_point, category, size, score,
		       age_hours, pressure, free_pct, rate_bps, duration_ms, ok,
		       error_code, error_message, details
		FROM events WHERE ts >= ? AND ts < ? ORDER BY ts ASC`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// LastEventBefore returns the newest event of the given kind strictly
// before t, or nil when none exists.
func (x *Index) LastEventBefore(kind Event, t time.Time) (*Entry, error) {
	rows, err := x.db.Query(`
		SELECT ts, event, severity, path, mount_point, category, size, score,
		       age_hours, pressure, free_pct, rate_bps, duration_ms, ok,
		       error_code, error_message, details
		FROM events WHERE event = ? AND ts < ? ORDER BY ts DESC LIMIT 1`,
		string(kind), t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	entries, err := scanEntries(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// Search returns events matching a substring of path or error message
// within the window, newest first. Used by the LogSearch screen.
func (x *Index) Search(substr string, from time.Time, limit int) ([]Entry, error) {
	pattern := "%" + substr + "%"
	rows, err := x.db.Query(`
		SELECT ts, event, severity, path, mount_point, category, size, score,
		       age_hours, pressure, free_pct, rate_bps, duration_ms, ok,
		       error_code, error_message, details
		FROM events
		WHERE ts >= ? AND (path LIKE ? OR error_message LIKE ? OR event LIKE ?)
		ORDER BY ts DESC LIMIT ?`,
		from.UTC().Format(time.RFC3339Nano), pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			ok      sql.NullInt64
			details sql.NullString
			sev     sql.NullString
		)
		err := rows.Scan(&e.TS, &e.Event, &sev, &e.Path, &e.MountPoint,
			&e.Category, &e.Size, &e.Score, &e.AgeHours, &e.Pressure,
			&e.FreePct, &e.RateBPS, &e.DurationMS, &ok, &e.ErrorCode,
			&e.ErrorMsg, &details)
		if err != nil {
			return nil, err
		}
		e.Severity = Severity(sev.String)
		if ok.Valid {
			b := ok.Int64 != 0
			e.OK = &b
		}
		if details.Valid && details.String != "" {
			var blob map[string]any
			if json.Unmarshal([]byte(details.String), &blob) == nil {
				if f, found := blob["factors"]; found {
					e.Factors = toFactorMap(f)
					delete(blob, "factors")
				}
				if len(blob) > 0 {
					e.Details = blob
				}
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toFactorMap(v any) map[string]float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, raw := range m {
		if f, ok := raw.(float64); ok {
			out[k] = f
		}
	}
	return out
}
