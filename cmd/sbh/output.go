// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// OUTPUT FORMAT RESOLUTION
// =============================================================================

// OutputFormat is the resolved rendering mode for one invocation.
type OutputFormat int

const (
	FormatHuman OutputFormat = iota
	FormatJSON
)

// resolveFormat picks the output format: the --output flag wins, then
// SBH_OUTPUT_FORMAT, then "auto". Auto means human on a terminal and
// JSON when stdout is a pipe, so scripts get stable output without
// asking for it.
func resolveFormat() OutputFormat {
	mode := flagOutput
	if mode == "" {
		mode = os.Getenv("SBH_OUTPUT_FORMAT")
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "json":
		return FormatJSON
	case "human":
		return FormatHuman
	default: // "auto" or unset
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return FormatHuman
		}
		return FormatJSON
	}
}

// colorEnabled honors NO_COLOR and non-terminal stdout.
func colorEnabled() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// emit renders one report: the JSON form is the document itself, the
// human form comes from the renderer.
func emit(report any, human func() string) error {
	if resolveFormat() == FormatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Println(human())
	return nil
}

// colorize wraps s in an ANSI color when color output is enabled.
func colorize(s, ansi string) string {
	if !colorEnabled() {
		return s
	}
	return ansi + s + "\x1b[0m"
}

// Pressure level colors for human output.
var levelColors = map[string]string{
	"green":    "\x1b[32m",
	"yellow":   "\x1b[33m",
	"orange":   "\x1b[33;1m",
	"red":      "\x1b[31;1m",
	"critical": "\x1b[31;1;4m",
}

func coloredLevel(level string) string {
	if ansi, ok := levelColors[level]; ok {
		return colorize(level, ansi)
	}
	return level
}
