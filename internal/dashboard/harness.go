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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Harness replays a message script through the pure core with no
// terminal and no I/O, recording the commands each step emitted and a
// digest of the model after it. Two runs of the same script from the
// same initial model produce identical traces; that property is what
// makes dashboard bugs reproducible from a captured message log.
type Harness struct {
	model Model
	steps []HarnessStep
}

// HarnessStep is one replayed message with its observable outcome.
type HarnessStep struct {
	Msg    Msg
	Cmds   []Cmd
	Digest string
}

// NewHarness starts a replay from the given initial model.
func NewHarness(initial Model) *Harness {
	return &Harness{model: initial}
}

// Model exposes the current model for assertions between steps.
func (h *Harness) Model() *Model { return &h.model }

// Step feeds one message through Update and records the outcome.
func (h *Harness) Step(msg Msg) []Cmd {
	cmds := Update(&h.model, msg)
	h.steps = append(h.steps, HarnessStep{
		Msg:    msg,
		Cmds:   cmds,
		Digest: modelDigest(&h.model),
	})
	return cmds
}

// Run replays a whole script and returns the per-step outcomes.
func (h *Harness) Run(msgs []Msg) []HarnessStep {
	for _, msg := range msgs {
		h.Step(msg)
	}
	return h.steps
}

// Steps returns everything recorded so far.
func (h *Harness) Steps() []HarnessStep { return h.steps }

// TraceDigest hashes the full step sequence into one hex string.
func (h *Harness) TraceDigest() string {
	hash := sha256.New()
	for _, step := range h.steps {
		fmt.Fprintf(hash, "%T|%s\n", step.Msg, step.Digest)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// modelDigest serializes the observable model fields in a fixed order
// and hashes them. Map-backed fields are emitted with sorted keys so
// the digest never depends on iteration order.
func modelDigest(m *Model) string {
	var b strings.Builder

	fmt.Fprintf(&b, "screen=%d overlay=%d detail=%v degraded=%v quitting=%v\n",
		m.Screen, m.Overlay, m.DetailOpen, m.Degraded, m.Quitting)
	fmt.Fprintf(&b, "filter=%d sort=%d search=%q\n", m.Filter, m.Sort, m.SearchQuery)
	fmt.Fprintf(&b, "history=%v\n", m.History)
	fmt.Fprintf(&b, "level=%s freshness=%s source=%s\n",
		m.State.OverallLevel(), m.State.Freshness, m.State.Source)

	cursors := make([]string, 0, len(m.Cursors))
	for screen, pos := range m.Cursors {
		cursors = append(cursors, fmt.Sprintf("%d:%d", screen, pos))
	}
	sort.Strings(cursors)
	fmt.Fprintf(&b, "cursors=%s\n", strings.Join(cursors, ","))

	for _, n := range m.Notifications {
		fmt.Fprintf(&b, "notif=%d:%s:%s\n", n.ID, n.Level, n.Text)
	}
	fmt.Fprintf(&b, "timeline=%d decisions=%d candidates=%d ballast=%d frames=%d\n",
		len(m.Timeline), len(m.Decisions), len(m.Candidates),
		len(m.Ballast), len(m.FrameTimes))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
