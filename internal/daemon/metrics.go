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
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/sbh/pkg/logging"
)

// Metrics exports the daemon's counters and gauges. Registration uses
// a private registry so tests can create multiple instances.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal       prometheus.Counter
	DeletionsTotal   prometheus.Counter
	BytesFreedTotal  prometheus.Counter
	ErrorsTotal      prometheus.Counter
	DroppedLogEvents prometheus.Gauge
	BallastAvailable prometheus.Gauge
	PressureLevel    prometheus.Gauge
	MountFreePct     *prometheus.GaugeVec
	TickDuration     prometheus.Histogram
}

// NewMetrics builds and registers the metric set.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sbh", Name: "scans_total",
		Help: "Completed scan passes.",
	})
	m.DeletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sbh", Name: "deletions_total",
		Help: "Artifacts deleted.",
	})
	m.BytesFreedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sbh", Name: "bytes_freed_total",
		Help: "Bytes reclaimed by deletions and ballast releases.",
	})
	m.ErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sbh", Name: "errors_total",
		Help: "Recoverable runtime errors.",
	})
	m.DroppedLogEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sbh", Name: "dropped_log_events",
		Help: "Activity-log events shed under back-pressure.",
	})
	m.BallastAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sbh", Name: "ballast_available",
		Help: "Ballast files currently present.",
	})
	m.PressureLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sbh", Name: "pressure_level",
		Help: "Overall pressure level (0=green .. 4=critical).",
	})
	m.MountFreePct = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sbh", Name: "mount_free_pct",
		Help: "Free space percentage per watched mount.",
	}, []string{"mount"})
	m.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sbh", Name: "tick_duration_seconds",
		Help:    "Event-loop tick latency.",
		Buckets: prometheus.DefBuckets,
	})

	m.registry.MustRegister(
		m.ScansTotal, m.DeletionsTotal, m.BytesFreedTotal, m.ErrorsTotal,
		m.DroppedLogEvents, m.BallastAvailable, m.PressureLevel,
		m.MountFreePct, m.TickDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics listener until ctx is cancelled. A bind
// failure is logged, not fatal: metrics are an observer, never a
// reason to stop protecting the disk.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics listener failed", "addr", addr, "error", err)
	}
}
