// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scanner

// batchBreaker trips after a configured number of consecutive
// failures, aborting the current deletion batch.
//
// # State Diagram
//
//	closed ──[threshold consecutive failures]──► tripped
//	   ▲                                            │
//	   └───────────────[Reset]──────────────────────┘
//
// A success while closed clears the failure streak. The breaker does
// not auto-recover: the next cycle constructs a fresh one (or calls
// Reset), so one bad batch never poisons the daemon.
//
// # Thread Safety
//
// Confined to the serial deletion loop; not safe for concurrent use.
type batchBreaker struct {
	threshold   int
	consecutive int
	tripped     bool
}

func newBatchBreaker(threshold int) *batchBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &batchBreaker{threshold: threshold}
}

// Fail records one failure and returns true if the breaker is now
// tripped.
func (b *batchBreaker) Fail() bool {
	if b.tripped {
		return true
	}
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.tripped = true
	}
	return b.tripped
}

// Success clears the consecutive failure streak.
func (b *batchBreaker) Success() {
	if !b.tripped {
		b.consecutive = 0
	}
}

// Tripped reports whether the batch should be aborted.
func (b *batchBreaker) Tripped() bool { return b.tripped }

// Reset returns the breaker to closed.
func (b *batchBreaker) Reset() {
	b.consecutive = 0
	b.tripped = false
}
