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
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sbh/internal/platform"
)

// version is overridden at build time:
//
//	go build -ldflags "-X main.version=v1.2.3"
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and host triple",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	host := platform.DetectHost()
	report := struct {
		Version string `json:"version"`
		Triple  string `json:"triple"`
		Asset   string `json:"asset"`
		Go      string `json:"go"`
	}{version, host.Triple(), host.AssetName(), runtime.Version()}

	return emit(report, func() string {
		return fmt.Sprintf("sbh %s (%s, %s)", report.Version, report.Triple, report.Go)
	})
}
