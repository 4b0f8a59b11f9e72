// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the SBH configuration: an immutable,
// hash-identified value loaded once from TOML (or defaults), covering
// pressure thresholds, scoring weights, ballast geometry, scanner knobs
// and the path layout.
//
// The Config value is validated on load and never mutated afterwards.
// StableHash identifies the configuration; anything cached against a
// configuration must be invalidated when the hash changes.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration value.
//
// # Thread Safety
//
// Config is immutable after Load; share it freely across goroutines.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Pressure  PressureConfig  `toml:"pressure"`
	Ballast   BallastConfig   `toml:"ballast"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Logging   LoggingConfig   `toml:"logging"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

// PathsConfig is the on-disk layout. Empty fields resolve to XDG
// defaults at load time.
type PathsConfig struct {
	// StateFile is the daemon state snapshot read by the CLI and TUI.
	StateFile string `toml:"state_file"`

	// PrefsFile holds dashboard user preferences (JSON).
	PrefsFile string `toml:"prefs_file"`

	// PatternsDir holds optional YAML pattern packs merged into the
	// built-in artifact registry.
	PatternsDir string `toml:"patterns_dir"`
}

// PressureConfig holds the level thresholds in percent free space.
// Thresholds must be strictly decreasing: green > yellow > orange > red.
type PressureConfig struct {
	// Mounts are the watched mount points. Empty resolves to "/".
	Mounts []string `toml:"mounts"`

	GreenMinFreePct  float64 `toml:"green_min_free_pct" validate:"gt=0,lte=100"`
	YellowMinFreePct float64 `toml:"yellow_min_free_pct" validate:"gt=0,lte=100"`
	OrangeMinFreePct float64 `toml:"orange_min_free_pct" validate:"gt=0,lte=100"`
	RedMinFreePct    float64 `toml:"red_min_free_pct" validate:"gt=0,lte=100"`

	// DeadBandPct is the extra margin required before de-escalating.
	DeadBandPct float64 `toml:"dead_band_pct" validate:"gte=0,lte=50"`

	// RateHalfLifeSeconds controls the EWMA smoothing of the fill
	// rate estimator.
	RateHalfLifeSeconds float64 `toml:"rate_half_life_seconds" validate:"gt=0"`

	// TickSeconds is the monitor sampling interval.
	TickSeconds float64 `toml:"tick_seconds" validate:"gte=1,lte=60"`
}

// BallastConfig describes the sacrificial file pool.
type BallastConfig struct {
	FileCount     int    `toml:"file_count" validate:"gte=0,lte=99"`
	FileSizeBytes int64  `toml:"file_size_bytes" validate:"gte=1048576"`
	Directory     string `toml:"directory"`

	// ReleaseFraction scales how many files one red-pressure episode
	// may release: ceil(file_count * urgency * release_fraction).
	ReleaseFraction float64 `toml:"release_fraction" validate:"gt=0,lte=1"`
}

// ScannerConfig holds walker and deletion knobs.
type ScannerConfig struct {
	RootPaths        []string `toml:"root_paths"`
	ExcludedPaths    []string `toml:"excluded_paths"`
	ProtectedPaths   []string `toml:"protected_paths"`
	MaxDepth         int      `toml:"max_depth" validate:"gte=1,lte=64"`
	FollowSymlinks   bool     `toml:"follow_symlinks"`
	CrossDevices     bool     `toml:"cross_devices"`
	Parallelism      int      `toml:"parallelism" validate:"gte=1,lte=64"`
	MinFileAgeMinute int      `toml:"min_file_age_minutes" validate:"gte=0"`
	MaxDeleteBatch   int      `toml:"max_delete_batch" validate:"gte=1,lte=10000"`
	IntervalMinutes  int      `toml:"interval_minutes" validate:"gte=1"`

	// MarkerDepth bounds protection-marker discovery from each root.
	MarkerDepth int `toml:"marker_depth" validate:"gte=1,lte=16"`
}

// ScoringConfig holds the candidacy scoring weights and cutoffs.
// Weights are individually in [0,1]; they need not sum to 1.
type ScoringConfig struct {
	WeightLocation  float64 `toml:"weight_location" validate:"gte=0,lte=1"`
	WeightName      float64 `toml:"weight_name" validate:"gte=0,lte=1"`
	WeightAge       float64 `toml:"weight_age" validate:"gte=0,lte=1"`
	WeightSize      float64 `toml:"weight_size" validate:"gte=0,lte=1"`
	WeightStructure float64 `toml:"weight_structure" validate:"gte=0,lte=1"`

	MinScore      float64 `toml:"min_score" validate:"gte=0,lte=1"`
	MinConfidence float64 `toml:"min_confidence" validate:"gte=0,lte=1"`
	MinSizeBytes  int64   `toml:"min_size_bytes" validate:"gte=0"`

	// AgeTauHours is the time constant of the age factor
	// 1 - exp(-age/tau).
	AgeTauHours float64 `toml:"age_tau_hours" validate:"gt=0"`
}

// LoggingConfig describes the activity log (not the slog wrapper).
type LoggingConfig struct {
	JSONLPath       string `toml:"jsonl_path"`
	SQLitePath      string `toml:"sqlite_path"`
	RotateSizeBytes int64  `toml:"rotate_size_bytes" validate:"gte=65536"`
	ChannelCapacity int    `toml:"channel_capacity" validate:"gte=16,lte=65536"`
	FlushEvery      int    `toml:"flush_every" validate:"gte=1"`
	FlushMillis     int    `toml:"flush_millis" validate:"gte=10"`
}

// DaemonConfig holds event-loop runtime knobs.
type DaemonConfig struct {
	// WatchdogIntervalSeconds enables systemd-style watchdog pings
	// when a notify socket is exported by the supervisor. The daemon
	// pings at half this interval. 0 disables the watchdog.
	WatchdogIntervalSeconds int `toml:"watchdog_interval_seconds" validate:"gte=0"`
}

// DashboardConfig holds TUI refresh behavior.
type DashboardConfig struct {
	RefreshMillis        int `toml:"refresh_ms" validate:"gte=100,lte=60000"`
	MetadataCacheTTLSecs int `toml:"metadata_cache_ttl" validate:"gte=0"`
}

// Default returns the built-in configuration. Path fields are left
// empty and resolved against the XDG layout by Load.
func Default() Config {
	return Config{
		Pressure: PressureConfig{
			GreenMinFreePct:     20,
			YellowMinFreePct:    10,
			OrangeMinFreePct:    5,
			RedMinFreePct:       2,
			DeadBandPct:         2,
			RateHalfLifeSeconds: 30,
			TickSeconds:         5,
		},
		Ballast: BallastConfig{
			FileCount:       10,
			FileSizeBytes:   1 << 30,
			ReleaseFraction: 0.5,
		},
		Scanner: ScannerConfig{
			MaxDepth:         8,
			FollowSymlinks:   false,
			CrossDevices:     false,
			Parallelism:      4,
			MinFileAgeMinute: 60,
			MaxDeleteBatch:   50,
			IntervalMinutes:  30,
			MarkerDepth:      3,
		},
		Scoring: ScoringConfig{
			WeightLocation:  0.25,
			WeightName:      0.20,
			WeightAge:       0.25,
			WeightSize:      0.15,
			WeightStructure: 0.15,
			MinScore:        0.7,
			MinConfidence:   0.5,
			MinSizeBytes:    1 << 20,
			AgeTauHours:     24,
		},
		Logging: LoggingConfig{
			RotateSizeBytes: 32 << 20,
			ChannelCapacity: 1024,
			FlushEvery:      64,
			FlushMillis:     500,
		},
		Dashboard: DashboardConfig{
			RefreshMillis:        1000,
			MetadataCacheTTLSecs: 3600,
		},
	}
}

// ValidationError enumerates every violated constraint found during
// Load. It maps to the user error class (exit code 1).
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Violations, "; "))
}
