// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pressure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testThresholds = Thresholds{Green: 20, Yellow: 10, Orange: 5, Red: 2, DeadBand: 2}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		freePct float64
		want    Level
	}{
		{25, Green},
		{20, Green}, // exactly at threshold belongs to the upper level
		{19.99, Yellow},
		{10, Yellow},
		{9.99, Orange},
		{5, Orange},
		{4.99, Red},
		{2, Red},
		{1.99, Critical},
		{0, Critical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, testThresholds.Classify(tc.freePct), "free_pct=%v", tc.freePct)
	}
}

func TestLevelStringRoundTrip(t *testing.T) {
	for _, l := range []Level{Green, Yellow, Orange, Red, Critical} {
		assert.Equal(t, l, ParseLevel(l.String()))
	}
	assert.Equal(t, Green, ParseLevel("bogus"))
	assert.Equal(t, Red, ParseLevel(" RED "))
}

func TestUrgencyOrdering(t *testing.T) {
	levels := []Level{Green, Yellow, Orange, Red, Critical}
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, levels[i].Urgency(), levels[i-1].Urgency())
	}
	assert.Equal(t, 0.0, Green.Urgency())
	assert.Equal(t, 1.0, Critical.Urgency())
}

func TestNextEscalatesImmediately(t *testing.T) {
	// Escalation jumps straight to the raw classification.
	assert.Equal(t, Orange, testThresholds.Next(Green, 7))
	assert.Equal(t, Critical, testThresholds.Next(Yellow, 1))
}

func TestNextDeEscalatesOneBandWithDeadBand(t *testing.T) {
	// Leaving orange for yellow requires clearing yellow's ceiling
	// (green threshold) plus the dead band.
	assert.Equal(t, Orange, testThresholds.Next(Orange, 15))
	assert.Equal(t, Orange, testThresholds.Next(Orange, 21.9))
	assert.Equal(t, Yellow, testThresholds.Next(Orange, 22))

	// Yellow -> green needs the same clearance.
	assert.Equal(t, Yellow, testThresholds.Next(Yellow, 21))
	assert.Equal(t, Green, testThresholds.Next(Yellow, 22))

	// Red -> orange clears orange's ceiling (yellow threshold).
	assert.Equal(t, Red, testThresholds.Next(Red, 11))
	assert.Equal(t, Orange, testThresholds.Next(Red, 12))

	// Critical -> red clears red's ceiling (orange threshold).
	assert.Equal(t, Critical, testThresholds.Next(Critical, 6))
	assert.Equal(t, Red, testThresholds.Next(Critical, 7))
}

func TestNextNoChangeInsideBand(t *testing.T) {
	assert.Equal(t, Yellow, testThresholds.Next(Yellow, 15))
	assert.Equal(t, Green, testThresholds.Next(Green, 90))
}
