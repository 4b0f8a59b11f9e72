// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scanner implements the artifact pipeline: a parallel
// directory walker, a pattern registry that classifies directories into
// artifact categories, the protection registry, the candidacy scorer
// and the deletion executor.
package scanner

import (
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Signal is one structural hint observed around a directory. Signals
// are evidence beyond the name: a `target` directory next to a
// Cargo.toml is a build artifact; a `target` directory on its own is
// just a directory.
type Signal uint8

const (
	// SignalManifestSibling: the parent directory contains a build
	// manifest (Cargo.toml, package.json, build.gradle, ...).
	SignalManifestSibling Signal = 1 << iota

	// SignalKnownLayout: the directory's children match the tool's
	// known output layout (target/debug, node_modules/.package-lock.json).
	SignalKnownLayout

	// SignalFingerprintFile: the directory contains a build-system
	// fingerprint file such as CACHEDIR.TAG.
	SignalFingerprintFile
)

// Signals is a bitset of Signal values.
type Signals uint8

// Has reports whether s contains sig.
func (s Signals) Has(sig Signal) bool { return uint8(s)&uint8(sig) != 0 }

// Count returns the number of set signals.
func (s Signals) Count() int { return bits.OnesCount8(uint8(s)) }

// signalCount is the number of defined signals, used for coverage.
const signalCount = 3

var signalNames = map[string]Signal{
	"manifest_sibling": SignalManifestSibling,
	"known_layout":     SignalKnownLayout,
	"fingerprint_file": SignalFingerprintFile,
}

// Category identifies the kind of artifact a directory holds.
type Category string

const (
	CategoryRustTarget   Category = "rust_target"
	CategoryNodeModules  Category = "node_modules"
	CategoryPythonCache  Category = "python_cache"
	CategoryPythonVenv   Category = "python_venv"
	CategoryJavaBuild    Category = "java_build"
	CategoryGradleCache  Category = "gradle_cache"
	CategoryCMakeBuild   Category = "cmake_build"
	CategoryGenericCache Category = "generic_cache"
	CategoryUnknown      Category = "unknown"
)

// Classification is the registry's verdict for one directory. Exactly
// one rule wins (first match in declaration order) or the result is
// CategoryUnknown with zero confidence.
type Classification struct {
	Category    Category `json:"category"`
	PatternName string   `json:"pattern_name"`

	// LocationConfidence and NameConfidence are the matched rule's
	// per-dimension weights; Confidence is their product.
	LocationConfidence float64 `json:"location_confidence"`
	NameConfidence     float64 `json:"name_confidence"`
	Confidence         float64 `json:"confidence"`

	Signals Signals `json:"-"`
}

// Rule is one classification pattern: a location glob over the full
// path, a basename regex, and the set of structural signals of which
// at least one must be present.
type Rule struct {
	Name            string
	Category        Category
	LocationGlob    string
	NameRegex       *regexp.Regexp
	RequiredSignals Signals

	// LocationWeight and NameWeight are each in [0,1]; the rule's
	// confidence is their product.
	LocationWeight float64
	NameWeight     float64

	locationRE *regexp.Regexp
}

// Registry holds the ordered rule list. Declaration order is the tie
// breaker: the first rule whose glob, regex and signals all match wins.
//
// # Thread Safety
//
// Registry is immutable after construction (LoadPacks included); share
// it freely across scanner workers.
type Registry struct {
	rules []Rule
}

// BuiltinRegistry returns the registry preloaded with the common
// toolchain artifacts. Weights keep likely artifacts (manifest-adjacent
// build output) at confidence >= 0.8 and plausible ones (caches without
// a manifest) at >= 0.5.
func BuiltinRegistry() (*Registry, error) {
	r := &Registry{}
	builtins := []Rule{
		{
			Name:            "rust-target",
			Category:        CategoryRustTarget,
			LocationGlob:    "**/target",
			NameRegex:       regexp.MustCompile(`^target$`),
			RequiredSignals: Signals(SignalManifestSibling | SignalFingerprintFile),
			LocationWeight:  0.95,
			NameWeight:      0.95,
		},
		{
			Name:            "node-modules",
			Category:        CategoryNodeModules,
			LocationGlob:    "**/node_modules",
			NameRegex:       regexp.MustCompile(`^node_modules$`),
			RequiredSignals: Signals(SignalManifestSibling | SignalKnownLayout),
			LocationWeight:  0.95,
			NameWeight:      0.95,
		},
		{
			Name:            "python-pycache",
			Category:        CategoryPythonCache,
			NameRegex:       regexp.MustCompile(`^__pycache__$`),
			LocationGlob:    "**/__pycache__",
			RequiredSignals: Signals(SignalKnownLayout),
			LocationWeight:  0.9,
			NameWeight:      0.95,
		},
		{
			Name:            "python-venv",
			Category:        CategoryPythonVenv,
			LocationGlob:    "**/.venv",
			NameRegex:       regexp.MustCompile(`^\.?venv$`),
			RequiredSignals: Signals(SignalKnownLayout),
			LocationWeight:  0.85,
			NameWeight:      0.95,
		},
		{
			Name:            "gradle-cache",
			Category:        CategoryGradleCache,
			LocationGlob:    "**/.gradle",
			NameRegex:       regexp.MustCompile(`^\.gradle$`),
			RequiredSignals: Signals(SignalManifestSibling | SignalKnownLayout),
			LocationWeight:  0.9,
			NameWeight:      0.9,
		},
		{
			Name:            "java-build",
			Category:        CategoryJavaBuild,
			LocationGlob:    "**/build",
			NameRegex:       regexp.MustCompile(`^build$`),
			RequiredSignals: Signals(SignalManifestSibling),
			LocationWeight:  0.85,
			NameWeight:      0.95,
		},
		{
			Name:            "cmake-build",
			Category:        CategoryCMakeBuild,
			LocationGlob:    "**/build*",
			NameRegex:       regexp.MustCompile(`^build(-[A-Za-z0-9_.]+)?$`),
			RequiredSignals: Signals(SignalKnownLayout),
			LocationWeight:  0.8,
			NameWeight:      0.85,
		},
		{
			Name:            "generic-dot-cache",
			Category:        CategoryGenericCache,
			LocationGlob:    "**/.cache",
			NameRegex:       regexp.MustCompile(`^\.cache$`),
			RequiredSignals: Signals(SignalKnownLayout | SignalFingerprintFile),
			LocationWeight:  0.75,
			NameWeight:      0.75,
		},
	}
	for _, rule := range builtins {
		if err := r.add(rule); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(rule Rule) error {
	re, err := compileGlob(rule.LocationGlob)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", rule.Name, err)
	}
	rule.locationRE = re
	r.rules = append(r.rules, rule)
	return nil
}

// Rules returns the declaration-ordered rule list (read only).
func (r *Registry) Rules() []Rule { return r.rules }

// packFile is the YAML shape of a pattern pack dropped into
// patterns.d. Packs append after the builtins, so they can add
// coverage but never shadow a built-in rule.
type packFile struct {
	Patterns []struct {
		Name            string   `yaml:"name"`
		Category        string   `yaml:"category"`
		LocationGlob    string   `yaml:"location_glob"`
		NameRegex       string   `yaml:"name_regex"`
		RequiredSignals []string `yaml:"required_signals"`
		LocationWeight  float64  `yaml:"location_weight"`
		NameWeight      float64  `yaml:"name_weight"`
	} `yaml:"patterns"`
}

// LoadPacks merges every *.yaml / *.yml file under dir into the
// registry, in filename order. A missing directory is not an error.
func (r *Registry) LoadPacks(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pattern dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read pattern pack %s: %w", path, err)
		}
		var pack packFile
		if err := yaml.Unmarshal(raw, &pack); err != nil {
			return fmt.Errorf("parse pattern pack %s: %w", path, err)
		}
		for _, p := range pack.Patterns {
			nameRE, err := regexp.Compile(p.NameRegex)
			if err != nil {
				return fmt.Errorf("pattern pack %s: pattern %q: %w", path, p.Name, err)
			}
			var sigs Signals
			for _, s := range p.RequiredSignals {
				bit, ok := signalNames[strings.ToLower(s)]
				if !ok {
					return fmt.Errorf("pattern pack %s: pattern %q: unknown signal %q", path, p.Name, s)
				}
				sigs |= Signals(bit)
			}
			rule := Rule{
				Name:            p.Name,
				Category:        Category(p.Category),
				LocationGlob:    p.LocationGlob,
				NameRegex:       nameRE,
				RequiredSignals: sigs,
				LocationWeight:  p.LocationWeight,
				NameWeight:      p.NameWeight,
			}
			if err := r.add(rule); err != nil {
				return fmt.Errorf("pattern pack %s: %w", path, err)
			}
		}
	}
	return nil
}

// Classify matches path against the rules in declaration order and
// returns the first full match, or a CategoryUnknown verdict. A rule
// matches when the location glob matches the full path, the name regex
// matches the basename, and at least one required structural signal is
// present.
func (r *Registry) Classify(path string, signals Signals) Classification {
	base := filepath.Base(path)
	for _, rule := range r.rules {
		if !rule.locationRE.MatchString(path) {
			continue
		}
		if !rule.NameRegex.MatchString(base) {
			continue
		}
		if rule.RequiredSignals != 0 && Signals(uint8(rule.RequiredSignals)&uint8(signals)) == 0 {
			continue
		}
		return Classification{
			Category:           rule.Category,
			PatternName:        rule.Name,
			LocationConfidence: rule.LocationWeight,
			NameConfidence:     rule.NameWeight,
			Confidence:         rule.LocationWeight * rule.NameWeight,
			Signals:            signals,
		}
	}
	return Classification{Category: CategoryUnknown, Signals: signals}
}

// compileGlob translates a location glob into a regexp: `**` crosses
// path separators, `*` stays within one segment, `?` matches one
// non-separator character. The glob is anchored at the end of the path
// so `**/target` matches any path whose final segment is `target`.
func compileGlob(glob string) (*regexp.Regexp, error) {
	if glob == "" {
		return regexp.Compile(".*")
	}
	var sb strings.Builder
	sb.WriteString("(^|/)")
	i := 0
	for i < len(glob) {
		switch {
		case strings.HasPrefix(glob[i:], "**/"):
			sb.WriteString(`(?:[^/]+/)*`)
			i += 3
		case strings.HasPrefix(glob[i:], "**"):
			sb.WriteString(`.*`)
			i += 2
		case glob[i] == '*':
			sb.WriteString(`[^/]*`)
			i++
		case glob[i] == '?':
			sb.WriteString(`[^/]`)
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			i++
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// manifestNames are build manifests whose presence as a sibling marks
// a directory as tool output.
var manifestNames = []string{
	"Cargo.toml",
	"package.json",
	"build.gradle",
	"build.gradle.kts",
	"settings.gradle",
	"pom.xml",
	"CMakeLists.txt",
	"pyproject.toml",
	"setup.py",
}

// fingerprintNames are files a build tool drops inside its output to
// mark it as regenerable.
var fingerprintNames = []string{
	"CACHEDIR.TAG",
	".package-lock.json",
}

// layoutProbe lists child names whose presence confirms a known output
// layout for a given basename.
var layoutProbes = map[string][]string{
	"target":       {"debug", "release", "CACHEDIR.TAG"},
	"node_modules": {".package-lock.json", ".bin"},
	"__pycache__":  {}, // any .pyc child, checked separately
	".venv":        {"pyvenv.cfg", "bin", "Scripts"},
	"venv":         {"pyvenv.cfg", "bin", "Scripts"},
	".gradle":      {"caches", "daemon"},
	".cache":       {}, // any child counts
}

// DetectSignals probes the filesystem around path for structural
// evidence. It does a handful of stats and at most one directory read;
// callers on the walker hot path should tolerate Signals(0) on error.
func DetectSignals(path string) Signals {
	var sigs Signals

	parent := filepath.Dir(path)
	for _, name := range manifestNames {
		if _, err := os.Stat(filepath.Join(parent, name)); err == nil {
			sigs |= Signals(SignalManifestSibling)
			break
		}
	}
	for _, name := range fingerprintNames {
		if _, err := os.Stat(filepath.Join(path, name)); err == nil {
			sigs |= Signals(SignalFingerprintFile)
			break
		}
	}
	if hasKnownLayout(path) {
		sigs |= Signals(SignalKnownLayout)
	}
	return sigs
}

func hasKnownLayout(path string) bool {
	base := filepath.Base(path)
	probes, ok := layoutProbes[base]
	if !ok {
		// build/ and friends: a child named CMakeCache.txt or classes
		// marks tool output.
		probes = []string{"CMakeCache.txt", "classes", "libs", "CMakeFiles"}
	}
	for _, child := range probes {
		if _, err := os.Stat(filepath.Join(path, child)); err == nil {
			return true
		}
	}
	if len(probes) > 0 && base != "__pycache__" && base != ".cache" {
		return false
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	if base == "__pycache__" {
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".pyc") {
				return true
			}
		}
		return false
	}
	// .cache: any content at all is a layout match.
	return len(entries) > 0
}
