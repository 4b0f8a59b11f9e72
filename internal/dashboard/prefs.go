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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Density selects row spacing in list screens.
type Density string

const (
	DensityComfortable Density = "comfortable"
	DensityCompact     Density = "compact"
)

// StartScreenPolicy decides the first screen shown.
type StartScreenPolicy string

const (
	// StartOverview always opens on Overview.
	StartOverview StartScreenPolicy = "overview"
	// StartLast reopens the screen saved at the previous exit.
	StartLast StartScreenPolicy = "last"
)

// UserPreferences is the small persisted dashboard configuration.
type UserPreferences struct {
	Density             Density           `json:"density,omitempty"`
	Hints               HintVerbosity     `json:"hint_verbosity,omitempty"`
	StartScreen         StartScreenPolicy `json:"start_screen,omitempty"`
	LastScreen          int               `json:"last_screen,omitempty"`
	NotificationTimeout int               `json:"notification_timeout_ms,omitempty"`
	RefreshMillis       int               `json:"refresh_ms,omitempty"`
}

// DefaultPreferences returns the fallbacks used whenever loading
// cannot produce a value.
func DefaultPreferences() UserPreferences {
	return UserPreferences{
		Density:             DensityComfortable,
		Hints:               HintsFull,
		StartScreen:         StartOverview,
		NotificationTimeout: 5000,
		RefreshMillis:       1000,
	}
}

func (p UserPreferences) startScreen() Screen {
	if p.StartScreen == StartLast && p.LastScreen >= 0 && p.LastScreen < screenCount {
		return Screen(p.LastScreen)
	}
	return ScreenOverview
}

func (p UserPreferences) notificationTimeout() time.Duration {
	if p.NotificationTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.NotificationTimeout) * time.Millisecond
}

func (p UserPreferences) refreshInterval() time.Duration {
	if p.RefreshMillis <= 0 {
		return time.Second
	}
	return time.Duration(p.RefreshMillis) * time.Millisecond
}

// LoadOutcome classifies a preferences load. Every outcome still
// yields usable preferences.
type LoadOutcome int

const (
	PrefsLoaded LoadOutcome = iota
	PrefsMissing
	PrefsCorrupt
	PrefsIoError
)

func (o LoadOutcome) String() string {
	switch o {
	case PrefsLoaded:
		return "loaded"
	case PrefsMissing:
		return "missing"
	case PrefsCorrupt:
		return "corrupt"
	case PrefsIoError:
		return "io_error"
	default:
		return "unknown"
	}
}

// LoadPreferences reads the JSON preferences file. The returned value
// is always usable: missing, corrupt, or unreadable files yield
// defaults with the outcome explaining why.
func LoadPreferences(path string) (UserPreferences, LoadOutcome, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPreferences(), PrefsMissing, nil
		}
		return DefaultPreferences(), PrefsIoError, err
	}

	prefs := DefaultPreferences()
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return DefaultPreferences(), PrefsCorrupt, err
	}
	return prefs, PrefsLoaded, nil
}

// SavePreferences writes atomically: sibling .tmp then rename.
func SavePreferences(path string, prefs UserPreferences) error {
	raw, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create preferences directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write preferences tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename preferences: %w", err)
	}
	return nil
}

// DebouncedWriter coalesces preference saves: rapid Save calls within
// the window write once, and ForceFlush persists the latest value at
// shutdown.
//
// # Thread Safety
//
// Safe for concurrent use; the runtime calls Save from its event loop
// and ForceFlush from the exit path.
type DebouncedWriter struct {
	path   string
	window time.Duration

	mu      sync.Mutex
	pending *UserPreferences
	timer   *time.Timer
}

// NewDebouncedWriter creates a writer with the given settle window.
func NewDebouncedWriter(path string, window time.Duration) *DebouncedWriter {
	return &DebouncedWriter{path: path, window: window}
}

// Save schedules a write of prefs after the window; a newer Save
// within the window supersedes it.
func (w *DebouncedWriter) Save(prefs UserPreferences) {
	w.mu.Lock()
	defer w.mu.Unlock()

	copied := prefs
	w.pending = &copied
	if w.timer == nil {
		w.timer = time.AfterFunc(w.window, w.flush)
	} else {
		w.timer.Reset(w.window)
	}
}

func (w *DebouncedWriter) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pending != nil {
		_ = SavePreferences(w.path, *pending)
	}
}

// ForceFlush writes any pending value immediately. Returns the save
// error, nil when nothing was pending.
func (w *DebouncedWriter) ForceFlush() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pending == nil {
		return nil
	}
	return SavePreferences(w.path, *pending)
}
