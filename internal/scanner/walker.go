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
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sbh/internal/platform"
)

// WalkedEntry is one directory captured by the walker.
type WalkedEntry struct {
	Path     string
	Depth    int
	Modified time.Time

	// Signals holds the structural evidence probed at visit time.
	Signals Signals

	// Pruned is true when the walker stopped descending here because
	// the classifier recognized it as an artifact root.
	Pruned bool
}

// WalkerConfig bounds the traversal.
type WalkerConfig struct {
	Roots          []string
	MaxDepth       int
	FollowSymlinks bool
	CrossDevices   bool
	ExcludedPaths  []string
	Parallelism    int
}

// Walker performs a parallel breadth-ordered traversal of the
// configured roots, pruning excluded prefixes, protected subtrees,
// unfollowed symlinks and foreign devices.
//
// # Description
//
// Directories are fanned out to a bounded worker group; each worker
// reads one directory, emits its subdirectories as entries and
// enqueues the ones worth descending into. Artifact roots (recognized
// by the classifier) are emitted but never descended into, so a
// node_modules tree costs one entry, not thousands.
//
// # Thread Safety
//
// A Walker is immutable after construction; Walk may be called
// concurrently, each call owns its traversal state.
type Walker struct {
	cfg        WalkerConfig
	registry   *Registry
	protection *Protection

	// beat, when set, is invoked by each worker per directory visited,
	// feeding the daemon's liveness monitor.
	beat func()
}

// NewWalker wires the walker to the registry used for prune decisions
// and the protection registry consulted per directory.
func NewWalker(cfg WalkerConfig, registry *Registry, protection *Protection) *Walker {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Walker{cfg: cfg, registry: registry, protection: protection}
}

type walkItem struct {
	path   string
	depth  int
	device uint64
}

// Walk traverses the roots and returns the captured entries sorted by
// path. Unreadable directories are skipped silently; the only error
// surface is context cancellation.
func (w *Walker) Walk(ctx context.Context) ([]WalkedEntry, error) {
	var (
		mu      sync.Mutex
		entries []WalkedEntry
		pending sync.WaitGroup
	)
	// Unbounded-depth frontier would deadlock a fixed channel; use a
	// mutex-guarded stack drained by the workers instead.
	var (
		queueMu sync.Mutex
		queue   []walkItem
	)
	wake := make(chan struct{}, w.cfg.Parallelism)

	push := func(item walkItem) {
		pending.Add(1)
		queueMu.Lock()
		queue = append(queue, item)
		queueMu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	pop := func() (walkItem, bool) {
		queueMu.Lock()
		defer queueMu.Unlock()
		if len(queue) == 0 {
			return walkItem{}, false
		}
		item := queue[0]
		queue = queue[1:]
		return item, true
	}

	for _, root := range w.cfg.Roots {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		push(walkItem{path: root, depth: 0, device: platform.DeviceID(info)})
	}

	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Parallelism; i++ {
		g.Go(func() error {
			for {
				item, ok := pop()
				if !ok {
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-done:
						// Re-check: another worker may have pushed
						// between our pop and the close.
						if item, ok = pop(); !ok {
							return nil
						}
					case <-wake:
						continue
					}
				}
				if w.beat != nil {
					w.beat()
				}
				children := w.visit(item)
				mu.Lock()
				for _, c := range children.emitted {
					entries = append(entries, c)
				}
				mu.Unlock()
				for _, next := range children.descend {
					push(next)
				}
				pending.Done()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

type visitResult struct {
	emitted []WalkedEntry
	descend []walkItem
}

func (w *Walker) visit(item walkItem) visitResult {
	var res visitResult
	dirents, err := os.ReadDir(item.path)
	if err != nil {
		return res
	}

	for _, d := range dirents {
		if !d.IsDir() {
			if !w.cfg.FollowSymlinks || d.Type()&fs.ModeSymlink == 0 {
				continue
			}
		}
		child := filepath.Join(item.path, d.Name())

		if d.Type()&fs.ModeSymlink != 0 {
			if !w.cfg.FollowSymlinks {
				continue
			}
			resolved, err := filepath.EvalSymlinks(child)
			if err != nil {
				continue
			}
			info, err := os.Stat(resolved)
			if err != nil || !info.IsDir() {
				continue
			}
		}
		if w.excluded(child) {
			continue
		}
		if protected, _ := w.protection.IsProtected(child); protected {
			continue
		}

		info, err := d.Info()
		if err != nil {
			continue
		}
		if !w.cfg.CrossDevices && item.device != 0 {
			if dev := platform.DeviceID(info); dev != 0 && dev != item.device {
				continue
			}
		}

		signals := DetectSignals(child)
		entry := WalkedEntry{
			Path:     child,
			Depth:    item.depth + 1,
			Modified: info.ModTime(),
			Signals:  signals,
		}

		// Artifact roots are emitted but not descended into.
		cls := w.registry.Classify(child, signals)
		if cls.Category != CategoryUnknown {
			entry.Pruned = true
			res.emitted = append(res.emitted, entry)
			continue
		}
		res.emitted = append(res.emitted, entry)
		if entry.Depth < w.cfg.MaxDepth {
			res.descend = append(res.descend, walkItem{
				path:   child,
				depth:  entry.Depth,
				device: item.device,
			})
		}
	}
	return res
}

func (w *Walker) excluded(path string) bool {
	for _, prefix := range w.cfg.ExcludedPaths {
		prefix = filepath.Clean(prefix)
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// TreeSize sums the file sizes under root. Used once per candidate,
// after classification, so the cost is bounded by the artifact tree
// itself.
func TreeSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
