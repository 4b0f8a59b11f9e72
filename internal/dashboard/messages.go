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

import "time"

// Msg is an input to the pure update function. The runtime translates
// terminal events and completed effects into these values.
type Msg interface{ isMsg() }

// KeyMsg is one normalized key press: single runes as themselves
// ("q", "1", "?"), named keys lowercase ("esc", "enter", "space",
// "up", "down"), modifiers prefixed ("ctrl+c", "ctrl+p").
type KeyMsg struct {
	Key string
}

// TickMsg drives the periodic refresh.
type TickMsg struct {
	At time.Time
}

// DataMsg delivers a state-adapter read. A read that produced no
// usable daemon state (Missing/Malformed with failed fallback) sets
// None true, which toggles degraded mode.
type DataMsg struct {
	None   bool
	Result StateResult
}

// TelemetryMsg delivers a telemetry-adapter fetch.
type TelemetryMsg struct {
	Result TelemetryResult
}

// NotificationExpiredMsg removes one notification by id.
type NotificationExpiredMsg struct {
	ID uint64
}

// ResizeMsg reports the terminal dimensions.
type ResizeMsg struct {
	Width, Height int
}

// FrameMsg reports one render duration for the frame-time ring.
type FrameMsg struct {
	Duration time.Duration
}

func (KeyMsg) isMsg()                 {}
func (TickMsg) isMsg()                {}
func (DataMsg) isMsg()                {}
func (TelemetryMsg) isMsg()           {}
func (NotificationExpiredMsg) isMsg() {}
func (ResizeMsg) isMsg()              {}
func (FrameMsg) isMsg()               {}

// Cmd describes a side effect for the runtime to execute. Update never
// performs I/O itself.
type Cmd interface{ isCmd() }

// FetchData asks the runtime to read the daemon state file.
type FetchData struct{}

// FetchTelemetry asks the runtime to query the telemetry chain.
type FetchTelemetry struct{}

// ScheduleTick asks for a TickMsg after the delay.
type ScheduleTick struct {
	After time.Duration
}

// ScheduleNotificationExpiry asks for a NotificationExpiredMsg.
type ScheduleNotificationExpiry struct {
	ID    uint64
	After time.Duration
}

// Quit terminates the program.
type Quit struct{}

func (FetchData) isCmd()                  {}
func (FetchTelemetry) isCmd()             {}
func (ScheduleTick) isCmd()               {}
func (ScheduleNotificationExpiry) isCmd() {}
func (Quit) isCmd()                       {}
