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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/sbh/pkg/logging"
)

// WriterConfig configures the JSONL writer.
type WriterConfig struct {
	// Path is the active JSONL file.
	Path string

	// RotateSizeBytes rolls the file to a timestamped archive once it
	// grows past this size. Archives are never rewritten.
	RotateSizeBytes int64

	// ChannelCapacity bounds the publish queue. A full queue drops the
	// new event (load shedding, not journaling).
	ChannelCapacity int

	// FlushEvery flushes the buffered writer after this many events.
	FlushEvery int

	// FlushInterval flushes at least this often regardless of volume.
	FlushInterval time.Duration

	// Beat, when set, is invoked by the writer goroutine as it makes
	// progress (per entry and on every idle flush tick), feeding a
	// liveness monitor. Must not block.
	Beat func()
}

// Writer appends entries to the JSONL log from a dedicated goroutine.
//
// # Description
//
// Publishers never block: Publish enqueues onto a bounded channel and
// drops the new entry when the channel is full, counting the drop.
// The writer goroutine owns the file handle and, when an Index is
// attached, the read-write SQLite connection, so all mutation of both
// stores is single-threaded.
//
// # Ordering
//
// Publish stamps each entry with a strictly monotonic RFC3339Nano
// timestamp, so the on-disk order equals the emission order.
//
// # Thread Safety
//
// Publish and Dropped are safe from any goroutine. Close must be
// called exactly once, after all publishers have stopped.
type Writer struct {
	cfg    WriterConfig
	index  *Index
	logger *logging.Logger

	ch      chan Entry
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
	lastTS time.Time
}

// NewWriter opens (or creates) the JSONL file and starts the writer
// goroutine. index may be nil to run without the SQLite projection.
func NewWriter(cfg WriterConfig, index *Index, logger *logging.Logger) (*Writer, error) {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1024
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &Writer{
		cfg:    cfg,
		index:  index,
		logger: logger,
		ch:     make(chan Entry, cfg.ChannelCapacity),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Publish enqueues an entry, stamping its timestamp. Returns false if
// the entry was dropped due to back-pressure or a closed writer.
func (w *Writer) Publish(e Entry) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.dropped.Add(1)
		return false
	}
	if e.TS == "" {
		now := time.Now().UTC()
		if !now.After(w.lastTS) {
			now = w.lastTS.Add(time.Nanosecond)
		}
		w.lastTS = now
		e.TS = now.Format(time.RFC3339Nano)
	}
	w.mu.Unlock()

	select {
	case w.ch <- e:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of entries shed under back-pressure.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting entries and drains the queue, waiting up to
// deadline. Entries still queued when the deadline expires are counted
// as dropped.
func (w *Writer) Close(deadline time.Duration) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.ch)
	select {
	case <-w.done:
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("log writer drain timed out after %s", deadline)
	}
}

// =============================================================================
// Writer goroutine
// =============================================================================

func (w *Writer) run() {
	defer close(w.done)

	beat := w.cfg.Beat
	if beat == nil {
		beat = func() {}
	}

	file, size, err := w.openLog()
	if err != nil {
		w.logger.Error("activity log unavailable, events will be dropped", "error", err)
		// Drain the channel so publishers keep their non-blocking
		// guarantee even without a log file.
		for range w.ch {
			w.dropped.Add(1)
			beat()
		}
		return
	}
	buf := bufio.NewWriter(file)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	pending := 0
	flush := func() {
		if pending == 0 {
			return
		}
		if err := buf.Flush(); err != nil {
			w.logger.Error("activity log flush failed", "error", err)
		}
		if w.index != nil {
			if err := w.index.SetIndexedLines(w.index.indexedLines); err != nil {
				w.logger.Warn("index watermark update failed", "error", err)
			}
		}
		pending = 0
	}

	for {
		select {
		case e, ok := <-w.ch:
			beat()
			if !ok {
				flush()
				_ = file.Sync()
				_ = file.Close()
				return
			}
			line, err := e.Encode()
			if err != nil {
				w.dropped.Add(1)
				continue
			}
			n, err := buf.Write(append(line, '\n'))
			if err != nil {
				w.logger.Error("activity log write failed", "error", err)
				w.dropped.Add(1)
				continue
			}
			size += int64(n)
			pending++

			if w.index != nil {
				if err := w.index.Insert(e); err != nil {
					w.logger.Warn("index insert failed", "error", err)
				}
			}

			if pending >= w.cfg.FlushEvery {
				flush()
			}
			if w.cfg.RotateSizeBytes > 0 && size >= w.cfg.RotateSizeBytes {
				flush()
				file, size = w.rotate(file)
				buf.Reset(file)
			}

		case <-ticker.C:
			beat()
			flush()
		}
	}
}

func (w *Writer) openLog() (*os.File, int64, error) {
	f, err := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("open activity log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// rotate renames the active file to a timestamped archive and opens a
// fresh one. On any failure the current file keeps growing; rotation
// is retried on the next size check.
func (w *Writer) rotate(current *os.File) (*os.File, int64) {
	_ = current.Sync()
	_ = current.Close()

	ext := filepath.Ext(w.cfg.Path)
	base := w.cfg.Path[:len(w.cfg.Path)-len(ext)]
	stamp := time.Now().UTC().Format("20060102T150405")
	archive := fmt.Sprintf("%s-%s%s", base, stamp, ext)
	for seq := 1; ; seq++ {
		if _, err := os.Stat(archive); os.IsNotExist(err) {
			break
		}
		// Archives are never rewritten; disambiguate rapid rotations.
		archive = fmt.Sprintf("%s-%s.%d%s", base, stamp, seq, ext)
	}
	if err := os.Rename(w.cfg.Path, archive); err != nil {
		w.logger.Error("log rotation failed", "error", err)
	} else {
		w.logger.Info("activity log rotated", "archive", archive)
		if w.index != nil {
			if err := w.index.ResetIndexedLines(); err != nil {
				w.logger.Warn("index watermark reset failed", "error", err)
			}
		}
	}

	f, size, err := w.openLog()
	if err != nil {
		w.logger.Error("reopening activity log failed", "error", err)
		// Fall back to discarding via /dev/null semantics: reopen the
		// old handle path on next rotation attempt.
		f, _ = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		size = 0
	}
	return f, size
}
