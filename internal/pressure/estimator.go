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
	"math"
	"time"
)

// Trend labels the direction of the free-space rate.
type Trend string

const (
	TrendFilling    Trend = "filling"
	TrendRecovering Trend = "recovering"
	TrendStable     Trend = "stable"
)

// trendDeadBand is the +-1 MB/s band treated as stable.
const trendDeadBand = 1 << 20

// historyLen is the sparkline ring size.
const historyLen = 30

// RateEstimator tracks an EWMA of the change in available bytes per
// second on one mount.
//
// The smoothing factor derives from a half-life: a sample Δt after the
// previous one carries weight 1 - 2^(-Δt/halfLife). The EWMA seeds at
// 0.0, so the first tick always reports stable regardless of the real
// rate; downstream callers tolerate that grace period.
//
// Degenerate samples (Δt <= 0, or an available-bytes jump at least the
// filesystem's total) preserve the prior estimate.
type RateEstimator struct {
	halfLife time.Duration

	ema      float64
	lastAt   time.Time
	lastAvab uint64
	primed   bool

	history [historyLen]float64
	histLen int
	histPos int
}

// NewRateEstimator creates an estimator with the given half-life.
func NewRateEstimator(halfLife time.Duration) *RateEstimator {
	if halfLife <= 0 {
		halfLife = 30 * time.Second
	}
	return &RateEstimator{halfLife: halfLife}
}

// Observe feeds one sample: the available bytes at time now on a
// filesystem of totalBytes capacity.
func (r *RateEstimator) Observe(now time.Time, availableBytes, totalBytes uint64) {
	if !r.primed {
		r.primed = true
		r.lastAt = now
		r.lastAvab = availableBytes
		r.push(r.ema)
		return
	}

	dt := now.Sub(r.lastAt).Seconds()
	delta := float64(availableBytes) - float64(r.lastAvab)
	r.lastAt = now
	r.lastAvab = availableBytes

	if dt <= 0 || (totalBytes > 0 && math.Abs(delta) >= float64(totalBytes)) {
		r.push(r.ema)
		return
	}

	sample := delta / dt
	alpha := 1 - math.Exp2(-dt/r.halfLife.Seconds())
	r.ema = alpha*sample + (1-alpha)*r.ema
	r.push(r.ema)
}

// BytesPerSec returns the current smoothed rate of change of available
// bytes (positive means space is being returned).
func (r *RateEstimator) BytesPerSec() float64 {
	return r.ema
}

// Trend maps the rate to its label with a +-1 MB/s dead band.
func (r *RateEstimator) Trend() Trend {
	switch {
	case r.ema > trendDeadBand:
		return TrendFilling
	case r.ema < -trendDeadBand:
		return TrendRecovering
	default:
		return TrendStable
	}
}

// History returns up to the last 30 smoothed samples, oldest first.
func (r *RateEstimator) History() []float64 {
	out := make([]float64, 0, r.histLen)
	start := r.histPos - r.histLen
	for i := 0; i < r.histLen; i++ {
		out = append(out, r.history[(start+i+historyLen)%historyLen])
	}
	return out
}

func (r *RateEstimator) push(v float64) {
	r.history[r.histPos] = v
	r.histPos = (r.histPos + 1) % historyLen
	if r.histLen < historyLen {
		r.histLen++
	}
}
