// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ballast manages the pool of pre-allocated sacrificial files
// that are deleted on demand to create instant headroom.
//
// The pool is a sequence ballast_00.bin .. ballast_NN.bin of identical
// size in a directory owned exclusively by SBH. A released file is
// deleted outright (never zero-truncated) so free-space accounting is
// exact. Each file carries a 64-byte header and trailer; integrity
// checks read only those 128 bytes, never the whole file.
package ballast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AleutianAI/sbh/internal/platform"
	"github.com/AleutianAI/sbh/pkg/logging"
)

const (
	// frameSize is the length of both the header and the trailer.
	frameSize = 64

	headerMagic   = "SBHBLST1"
	headerVersion = uint16(1)
)

// ErrPoolExhausted is returned by Release when no files are present.
var ErrPoolExhausted = errors.New("ballast pool exhausted")

// File describes one ballast file's observed state.
type File struct {
	Index       int    `json:"index"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IntegrityOK bool   `json:"integrity_ok"`
	CreatedAt   string `json:"created_at_iso"`
}

// ReleaseReport summarizes one Release call. Per-file failures do not
// abort the operation; they land in Errors.
type ReleaseReport struct {
	FilesReleased int      `json:"files_released"`
	BytesFreed    int64    `json:"bytes_freed"`
	Errors        []string `json:"errors,omitempty"`
}

// VerifyReport summarizes an integrity pass. Corrupted files are left
// in place; re-provisioning is an operator decision.
type VerifyReport struct {
	FilesChecked   int      `json:"files_checked"`
	FilesOK        int      `json:"files_ok"`
	FilesCorrupted int      `json:"files_corrupted"`
	FilesMissing   int      `json:"files_missing"`
	Details        []string `json:"details,omitempty"`
}

// Pool manages the ballast directory.
//
// # Thread Safety
//
// Pool is confined to the daemon event loop (or a single CLI
// invocation); it is not safe for concurrent use.
type Pool struct {
	dir    string
	count  int
	size   int64
	logger *logging.Logger
}

// NewPool creates a manager for a pool of count files of size bytes
// under dir. Nothing touches the disk until Provision.
func NewPool(dir string, count int, size int64, logger *logging.Logger) *Pool {
	return &Pool{dir: dir, count: count, size: size, logger: logger}
}

// Path returns the file path for one index.
func (p *Pool) Path(index int) string {
	return filepath.Join(p.dir, fmt.Sprintf("ballast_%02d.bin", index))
}

// Total returns the configured pool size in files.
func (p *Pool) Total() int { return p.count }

// FileSize returns the configured per-file size.
func (p *Pool) FileSize() int64 { return p.size }

// =============================================================================
// Provision / Replenish
// =============================================================================

// Provision creates every missing ballast file. It is idempotent:
// files already present with the correct size and a valid header are
// skipped, so running it twice yields the same file set.
//
// Returns the number of files created.
func (p *Pool) Provision() (int, error) {
	if p.count == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create ballast directory: %w", err)
	}

	created := 0
	for i := 0; i < p.count; i++ {
		path := p.Path(i)
		if p.fileLooksValid(path, i) {
			continue
		}
		if err := p.writeFile(path, i); err != nil {
			return created, fmt.Errorf("provision %s: %w", path, err)
		}
		created++
	}
	if created > 0 {
		p.logger.Info("ballast provisioned", "created", created, "file_size", p.size)
	}
	return created, nil
}

// Replenish is Provision under its policy name: recreate any missing
// files up to the configured count. Safe to call repeatedly.
func (p *Pool) Replenish() (int, error) {
	return p.Provision()
}

func (p *Pool) fileLooksValid(path string, index int) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() != p.size {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	return p.checkFrame(f, 0, index) == nil
}

func (p *Pool) writeFile(path string, index int) error {
	if p.size < 2*frameSize {
		return fmt.Errorf("file size %d smaller than header+trailer", p.size)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := platform.Allocate(f, p.size); err != nil {
		return err
	}

	frame := p.buildFrame(index)
	if _, err := f.WriteAt(frame, 0); err != nil {
		return err
	}
	if _, err := f.WriteAt(frame, p.size-frameSize); err != nil {
		return err
	}
	return f.Sync()
}

// buildFrame lays out the 64-byte header/trailer:
//
//	[0:8)   magic "SBHBLST1"
//	[8:10)  version
//	[10:12) file index
//	[12:20) file size
//	[20:60) reserved (zero)
//	[60:64) CRC32 of bytes [0:60)
func (p *Pool) buildFrame(index int) []byte {
	frame := make([]byte, frameSize)
	copy(frame[0:8], headerMagic)
	binary.LittleEndian.PutUint16(frame[8:10], headerVersion)
	binary.LittleEndian.PutUint16(frame[10:12], uint16(index))
	binary.LittleEndian.PutUint64(frame[12:20], uint64(p.size))
	binary.LittleEndian.PutUint32(frame[60:64], crc32.ChecksumIEEE(frame[:60]))
	return frame
}

func (p *Pool) checkFrame(r io.ReaderAt, offset int64, index int) error {
	frame := make([]byte, frameSize)
	if _, err := r.ReadAt(frame, offset); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if string(frame[0:8]) != headerMagic {
		return errors.New("bad magic")
	}
	if v := binary.LittleEndian.Uint16(frame[8:10]); v != headerVersion {
		return fmt.Errorf("unsupported version %d", v)
	}
	if got := int(binary.LittleEndian.Uint16(frame[10:12])); got != index {
		return fmt.Errorf("index mismatch: frame says %d", got)
	}
	if got := int64(binary.LittleEndian.Uint64(frame[12:20])); got != p.size {
		return fmt.Errorf("size mismatch: frame says %d", got)
	}
	want := binary.LittleEndian.Uint32(frame[60:64])
	if crc32.ChecksumIEEE(frame[:60]) != want {
		return errors.New("checksum mismatch")
	}
	return nil
}

// =============================================================================
// Inventory / Release
// =============================================================================

// Inventory lists the pool's files, present or not, ascending by
// index. Integrity reflects a header check only (cheap); Verify does
// the full header+trailer pass.
func (p *Pool) Inventory() []File {
	out := make([]File, 0, p.count)
	for i := 0; i < p.count; i++ {
		path := p.Path(i)
		file := File{Index: i, Path: path}
		info, err := os.Stat(path)
		if err == nil {
			file.Size = info.Size()
			file.CreatedAt = info.ModTime().UTC().Format(time.RFC3339)
			file.IntegrityOK = p.fileLooksValid(path, i)
		}
		out = append(out, file)
	}
	return out
}

// Available returns the number of files currently present.
func (p *Pool) Available() int {
	n := 0
	for i := 0; i < p.count; i++ {
		if _, err := os.Stat(p.Path(i)); err == nil {
			n++
		}
	}
	return n
}

// Released returns Total - Available; the two always sum to Total.
func (p *Pool) Released() int {
	return p.count - p.Available()
}

// Release deletes up to count files, highest index first.
//
// # Description
//
// Unlink is observable by the OS immediately, so each successful
// removal creates headroom before the next begins. A failure on one
// file is recorded and the remaining files are still attempted.
//
// Returns ErrPoolExhausted only when no file was present at all.
func (p *Pool) Release(count int) (ReleaseReport, error) {
	var report ReleaseReport
	if count <= 0 {
		return report, nil
	}

	var present []int
	for i := 0; i < p.count; i++ {
		if _, err := os.Stat(p.Path(i)); err == nil {
			present = append(present, i)
		}
	}
	if len(present) == 0 {
		return report, ErrPoolExhausted
	}
	sort.Sort(sort.Reverse(sort.IntSlice(present)))
	if count < len(present) {
		present = present[:count]
	}

	for _, idx := range present {
		path := p.Path(idx)
		info, statErr := os.Stat(path)
		if err := os.Remove(path); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		report.FilesReleased++
		if statErr == nil {
			report.BytesFreed += info.Size()
		}
	}
	p.logger.Info("ballast released",
		"files", report.FilesReleased, "bytes_freed", report.BytesFreed,
		"errors", len(report.Errors))
	return report, nil
}

// =============================================================================
// Verify
// =============================================================================

// Verify checks header and trailer of every present file. It never
// repairs anything.
func (p *Pool) Verify() VerifyReport {
	var report VerifyReport
	for i := 0; i < p.count; i++ {
		path := p.Path(i)
		report.FilesChecked++

		info, err := os.Stat(path)
		if err != nil {
			report.FilesMissing++
			continue
		}

		if err := p.verifyOne(path, i, info.Size()); err != nil {
			report.FilesCorrupted++
			report.Details = append(report.Details, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		report.FilesOK++
	}
	return report
}

func (p *Pool) verifyOne(path string, index int, size int64) error {
	if size != p.size {
		return fmt.Errorf("size %d, want %d", size, p.size)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := p.checkFrame(f, 0, index); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if err := p.checkFrame(f, size-frameSize, index); err != nil {
		return fmt.Errorf("trailer: %w", err)
	}
	return nil
}
