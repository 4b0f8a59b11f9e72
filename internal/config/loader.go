// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, parses and validates the configuration at path.
//
// # Description
//
// A missing file is not an error: the built-in defaults are written to
// path first (teacher-of-record behavior for first runs), then loaded
// like any other file. Unknown keys are rejected so typos surface
// immediately. Empty path fields resolve to the XDG layout.
//
// # Outputs
//
//   - Config: validated, immutable configuration
//   - error: *ValidationError for constraint violations, otherwise an
//     I/O or parse error
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, &ValidationError{Violations: []string{"unknown keys: " + strict.String()}}
		}
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	resolvePaths(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every range constraint plus the cross-field
// threshold ordering. All violations are reported at once.
func (c Config) Validate() error {
	var violations []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				violations = append(violations,
					fmt.Sprintf("%s: failed %s=%s (value %v)",
						fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			}
		} else {
			violations = append(violations, err.Error())
		}
	}

	p := c.Pressure
	if !(p.GreenMinFreePct > p.YellowMinFreePct &&
		p.YellowMinFreePct > p.OrangeMinFreePct &&
		p.OrangeMinFreePct > p.RedMinFreePct) {
		violations = append(violations,
			fmt.Sprintf("pressure thresholds must be strictly decreasing green>yellow>orange>red, got %.1f/%.1f/%.1f/%.1f",
				p.GreenMinFreePct, p.YellowMinFreePct, p.OrangeMinFreePct, p.RedMinFreePct))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// StableHash returns a hex digest identifying this configuration.
//
// The hash is computed over a canonical TOML re-encoding, so it is
// insensitive to key ordering and comments in the source file. Caches
// keyed by configuration must invalidate when the hash changes.
func (c Config) StableHash() string {
	data, err := toml.Marshal(c)
	if err != nil {
		// Marshal of a plain struct cannot fail in practice.
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	cfg := Default()
	resolvePaths(&cfg)
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := "# SBH configuration. Generated on first run; edit freely.\n" +
		"# Thresholds are percent free space; see `sbh config show` for\n" +
		"# the effective values.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Set applies a dot-path override ("pressure.dead_band_pct=3") to the
// config file at path, then re-loads to validate the result.
//
// The mutation is a single TOML table update on the raw document, so
// unrelated keys and their values survive untouched.
func Set(path, dotted, value string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	keys := strings.Split(dotted, ".")
	if len(keys) < 2 {
		return Config{}, &ValidationError{Violations: []string{
			fmt.Sprintf("key %q must be section.field", dotted)}}
	}

	table := doc
	for _, k := range keys[:len(keys)-1] {
		child, ok := table[k].(map[string]any)
		if !ok {
			child = map[string]any{}
			table[k] = child
		}
		table = child
	}
	table[keys[len(keys)-1]] = coerceValue(value)

	out, err := toml.Marshal(doc)
	if err != nil {
		return Config{}, err
	}

	cfg, err := parse(out)
	if err != nil {
		return Config{}, err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return Config{}, fmt.Errorf("write config: %w", err)
	}
	return cfg, nil
}

// coerceValue guesses the TOML type of a CLI-supplied value.
func coerceValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "[") {
		var doc struct {
			V []any `toml:"v"`
		}
		if err := toml.Unmarshal([]byte("v = "+s), &doc); err == nil {
			return doc.V
		}
	}
	return s
}
