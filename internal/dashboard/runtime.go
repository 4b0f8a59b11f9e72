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
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// RuntimeConfig wires the runtime to its data sources.
type RuntimeConfig struct {
	StatePath   string
	Mounts      []string
	BallastDir  string
	BallastN    int
	BallastSize int64
	SQLitePath  string
	JSONLPath   string
	PrefsPath   string
}

// Runtime adapts the pure core to bubbletea: it executes the Cmds the
// core returns, translates terminal events into Msgs, and pushes a
// FetchData the moment fsnotify sees the daemon rewrite its state
// file rather than waiting out the refresh interval.
type Runtime struct {
	model Model

	state     *StateAdapter
	telemetry *Composite
	prefs     *DebouncedWriter

	watcher   *fsnotify.Watcher
	statePath string

	spin spinner.Model
}

// Internal runtime-only messages.
type stateChangedMsg struct{}
type watcherErrMsg struct{ err error }

// NewRuntime builds the runtime and its adapters. A failed fsnotify
// setup is not fatal: the dashboard falls back to interval polling.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	prefs, outcome, err := LoadPreferences(cfg.PrefsPath)
	if outcome == PrefsIoError && err != nil {
		return nil, fmt.Errorf("load dashboard preferences: %w", err)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	r := &Runtime{
		model: NewModel(prefs),
		state: NewStateAdapter(cfg.StatePath, cfg.Mounts,
			cfg.BallastDir, cfg.BallastN, cfg.BallastSize),
		telemetry: NewDefaultChain(cfg.SQLitePath, cfg.JSONLPath),
		prefs:     NewDebouncedWriter(cfg.PrefsPath, 2*time.Second),
		statePath: filepath.Clean(cfg.StatePath),
		spin:      sp,
	}

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(filepath.Dir(r.statePath)); err == nil {
			r.watcher = watcher
		} else {
			watcher.Close()
		}
	}
	return r, nil
}

// Run starts the bubbletea program and blocks until exit.
func (r *Runtime) Run() error {
	program := tea.NewProgram(r, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// Init primes the first refresh cycle.
func (r *Runtime) Init() tea.Cmd {
	cmds := []tea.Cmd{
		r.fetchData,
		r.fetchTelemetry,
		r.scheduleTick(r.model.Prefs.refreshInterval()),
		r.spin.Tick,
	}
	if r.watcher != nil {
		cmds = append(cmds, r.waitForStateChange, r.waitForWatcherError)
	}
	return tea.Batch(cmds...)
}

// Update translates terminal events to core messages and executes the
// resulting commands.
func (r *Runtime) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		before := r.model.Screen
		cmds := Update(&r.model, KeyMsg{Key: normalizeKey(msg)})
		if r.model.Screen != before {
			r.savePrefs()
		}
		return r, r.exec(cmds)

	case tea.WindowSizeMsg:
		return r, r.exec(Update(&r.model, ResizeMsg{Width: msg.Width, Height: msg.Height}))

	case spinner.TickMsg:
		var cmd tea.Cmd
		r.spin, cmd = r.spin.Update(msg)
		return r, cmd

	case stateChangedMsg:
		// The daemon just renamed a fresh snapshot into place.
		return r, tea.Batch(r.fetchData, r.waitForStateChange)

	case watcherErrMsg:
		cmds := NotifyError(&r.model, msg.err, time.Now())
		return r, tea.Batch(r.exec(cmds), r.waitForWatcherError)

	case Msg:
		return r, r.exec(Update(&r.model, msg))
	}
	return r, nil
}

// View renders the frame and feeds its duration back into the model's
// frame-time ring.
func (r *Runtime) View() string {
	start := time.Now()
	frame := Render(&r.model)
	r.model.recordFrame(time.Since(start))

	if r.model.Degraded {
		return r.spin.View() + " waiting for daemon state\n" + frame
	}
	return frame
}

// exec turns core commands into bubbletea commands.
func (r *Runtime) exec(cmds []Cmd) tea.Cmd {
	if len(cmds) == 0 {
		return nil
	}
	out := make([]tea.Cmd, 0, len(cmds))
	for _, c := range cmds {
		switch c := c.(type) {
		case FetchData:
			out = append(out, r.fetchData)
		case FetchTelemetry:
			out = append(out, r.fetchTelemetry)
		case ScheduleTick:
			out = append(out, r.scheduleTick(c.After))
		case ScheduleNotificationExpiry:
			id := c.ID
			out = append(out, tea.Tick(c.After, func(time.Time) tea.Msg {
				return NotificationExpiredMsg{ID: id}
			}))
		case Quit:
			r.shutdown()
			out = append(out, tea.Quit)
		}
	}
	return tea.Batch(out...)
}

func (r *Runtime) fetchData() tea.Msg {
	res := r.state.Read(time.Now())
	return DataMsg{None: !res.Usable(), Result: res}
}

func (r *Runtime) fetchTelemetry() tea.Msg {
	return TelemetryMsg{Result: r.telemetry.Fetch(maxTimelineRows)}
}

func (r *Runtime) scheduleTick(after time.Duration) tea.Cmd {
	return tea.Tick(after, func(t time.Time) tea.Msg {
		return TickMsg{At: t}
	})
}

// waitForStateChange blocks on fsnotify until the state file itself is
// created, written, or renamed over.
func (r *Runtime) waitForStateChange() tea.Msg {
	for ev := range r.watcher.Events {
		if filepath.Clean(ev.Name) != r.statePath {
			continue
		}
		if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
			return stateChangedMsg{}
		}
	}
	return nil
}

func (r *Runtime) waitForWatcherError() tea.Msg {
	err, ok := <-r.watcher.Errors
	if !ok {
		return nil
	}
	return watcherErrMsg{err: err}
}

func (r *Runtime) savePrefs() {
	prefs := r.model.Prefs
	prefs.LastScreen = int(r.model.Screen)
	r.model.Prefs = prefs
	r.prefs.Save(prefs)
}

func (r *Runtime) shutdown() {
	if r.watcher != nil {
		r.watcher.Close()
	}
	_ = r.prefs.ForceFlush()
}

// normalizeKey collapses bubbletea's key representation into the plain
// strings the core matches on.
func normalizeKey(msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyEsc:
		return "esc"
	case tea.KeyEnter:
		return "enter"
	case tea.KeySpace:
		return "space"
	case tea.KeyUp:
		return "up"
	case tea.KeyDown:
		return "down"
	case tea.KeyCtrlC:
		return "ctrl+c"
	case tea.KeyCtrlP:
		return "ctrl+p"
	}
	return msg.String()
}
