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
	"errors"
	"fmt"
	"os"
)

// Exit codes form the CLI's machine-readable contract.
const (
	exitOK       = 0
	exitUser     = 1 // bad argument or configuration
	exitRuntime  = 2 // I/O or syscall failure
	exitInternal = 3 // invariant violation
	exitPartial  = 4 // some items succeeded, some failed
)

// exitError carries an explicit exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userErr(err error) error     { return &exitError{code: exitUser, err: err} }
func runtimeErr(err error) error  { return &exitError{code: exitRuntime, err: err} }
func internalErr(err error) error { return &exitError{code: exitInternal, err: err} }
func partialErr(err error) error  { return &exitError{code: exitPartial, err: err} }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sbh: %v\n", err)

		var coded *exitError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		// Cobra surfaces its own parse errors without a code.
		os.Exit(exitUser)
	}
}
