// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package daemon

import (
	"net"
	"os"
	"strings"
	"time"
)

// Watchdog sends sd_notify-style datagrams to the supervisor's
// NOTIFY_SOCKET. Pings go out every interval/2, so a single lost
// datagram does not expire the supervisor's timer.
//
// # Thread Safety
//
// All methods are called from the event loop only. A nil *Watchdog is
// valid and inert, so callers never branch on "enabled".
type Watchdog struct {
	conn     net.Conn
	interval time.Duration
	lastPing time.Time
}

// NewWatchdog connects to $NOTIFY_SOCKET. Returns nil when interval is
// zero, no socket is exported, or the dial fails; the daemon then runs
// unsupervised.
func NewWatchdog(interval time.Duration) *Watchdog {
	if interval <= 0 {
		return nil
	}
	path := os.Getenv("NOTIFY_SOCKET")
	if path == "" {
		return nil
	}
	// A leading @ names the abstract socket namespace.
	if strings.HasPrefix(path, "@") {
		path = "\x00" + path[1:]
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil
	}
	return &Watchdog{conn: conn, interval: interval}
}

// Ready announces startup completion to the supervisor.
func (w *Watchdog) Ready() {
	if w == nil {
		return
	}
	_, _ = w.conn.Write([]byte("READY=1"))
}

// Ping sends WATCHDOG=1 when interval/2 has elapsed since the last
// ping. Reports whether a datagram was sent.
func (w *Watchdog) Ping(now time.Time) bool {
	if w == nil {
		return false
	}
	if !w.lastPing.IsZero() && now.Sub(w.lastPing) < w.interval/2 {
		return false
	}
	if _, err := w.conn.Write([]byte("WATCHDOG=1")); err != nil {
		return false
	}
	w.lastPing = now
	return true
}

// Close announces shutdown and releases the socket.
func (w *Watchdog) Close() {
	if w == nil {
		return
	}
	_, _ = w.conn.Write([]byte("STOPPING=1"))
	_ = w.conn.Close()
}
