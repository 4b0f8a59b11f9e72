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

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// MarkerName is the operator-owned file that flags a subtree as
// off-limits. Its content is not interpreted.
const MarkerName = ".sbh-protect"

// ProtectionSource records why a path is protected.
type ProtectionSource struct {
	// Kind is "marker_file" or "config_pattern".
	Kind string `json:"kind"`

	// Pattern is the matching glob when Kind is "config_pattern".
	Pattern string `json:"pattern,omitempty"`
}

// ProtectionEntry is one protected root with its provenance.
type ProtectionEntry struct {
	Path   string           `json:"path"`
	Source ProtectionSource `json:"source"`
}

// Protection answers "is this path protected?" from two sources:
// discovered .sbh-protect markers and configured glob patterns. A path
// is protected iff any ancestor (itself included) holds a marker, or
// any configured glob matches its absolute path.
//
// # Thread Safety
//
// DiscoverMarkers rebuilds the marker set; IsProtected and Entries are
// read paths. All methods are safe for concurrent use; the walker's
// worker pool queries while the daemon refreshes.
type Protection struct {
	mu       sync.RWMutex
	markers  map[string]struct{}
	patterns []protectionPattern
}

type protectionPattern struct {
	glob string
	re   *regexp.Regexp
}

// NewProtection builds a registry from configured glob patterns.
// Discovery is separate; call DiscoverMarkers before the first scan.
func NewProtection(patterns []string) (*Protection, error) {
	p := &Protection{markers: make(map[string]struct{})}
	for _, glob := range patterns {
		re, err := compileGlob(glob)
		if err != nil {
			return nil, fmt.Errorf("protection pattern %q: %w", glob, err)
		}
		p.patterns = append(p.patterns, protectionPattern{glob: glob, re: re})
	}
	return p, nil
}

// DiscoverMarkers walks each root to maxDepth looking for MarkerName
// files and rebuilds the marker set from what it finds. Running it N
// times over an unchanged tree produces the same set. Unreadable
// directories are skipped, not errors.
func (p *Protection) DiscoverMarkers(roots []string, maxDepth int) error {
	found := make(map[string]struct{})
	for _, root := range roots {
		root = filepath.Clean(root)
		base := strings.Count(root, string(filepath.Separator))
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if strings.Count(path, string(filepath.Separator))-base > maxDepth {
				return fs.SkipDir
			}
			if _, statErr := os.Stat(filepath.Join(path, MarkerName)); statErr == nil {
				found[path] = struct{}{}
				return fs.SkipDir
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("discover markers under %s: %w", root, err)
		}
	}

	p.mu.Lock()
	p.markers = found
	p.mu.Unlock()
	return nil
}

// IsProtected walks ancestors of path checking marker membership, then
// checks the configured patterns against the absolute path. Returns
// the matching entry for diagnostics.
func (p *Protection) IsProtected(path string) (bool, *ProtectionEntry) {
	path = filepath.Clean(path)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for cur := path; ; cur = filepath.Dir(cur) {
		if _, ok := p.markers[cur]; ok {
			return true, &ProtectionEntry{
				Path:   cur,
				Source: ProtectionSource{Kind: "marker_file"},
			}
		}
		if cur == filepath.Dir(cur) {
			break
		}
	}
	for _, pat := range p.patterns {
		if pat.re.MatchString(path) {
			return true, &ProtectionEntry{
				Path:   path,
				Source: ProtectionSource{Kind: "config_pattern", Pattern: pat.glob},
			}
		}
	}
	return false, nil
}

// Entries lists the discovered marker roots plus the configured
// patterns, markers first, sorted by path.
func (p *Protection) Entries() []ProtectionEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ProtectionEntry, 0, len(p.markers)+len(p.patterns))
	for path := range p.markers {
		out = append(out, ProtectionEntry{
			Path:   path,
			Source: ProtectionSource{Kind: "marker_file"},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	for _, pat := range p.patterns {
		out = append(out, ProtectionEntry{
			Path:   pat.glob,
			Source: ProtectionSource{Kind: "config_pattern", Pattern: pat.glob},
		})
	}
	return out
}
