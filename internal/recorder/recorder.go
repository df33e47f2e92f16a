// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package recorder persists every envelope tapped by the monitor package to
// a rotating, gzip-compressed append log, with an optional S3 uploader for
// completed segments.
package recorder

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/krossbar-go/rpcbus/internal/monitor"
	"github.com/krossbar-go/rpcbus/internal/wire"
)

// Archiver uploads a completed segment somewhere durable. Implementations
// must not block the recorder's write path; Archive is called from its own
// goroutine per segment.
type Archiver interface {
	Archive(path string) error
}

// Recorder installs itself as the process's monitor.Send sink and appends
// every mirrored envelope, as a self-delimiting length-prefixed BSON
// document, to a gzip segment under dir. A segment is rotated to a
// timestamped ".bson.gz" file once it reaches rotateBytes of uncompressed
// content; completed segments are optionally handed to archiver.
type Recorder struct {
	dir         string
	rotateBytes int64
	archiver    Archiver
	logger      *slog.Logger

	ours  *net.UnixConn
	theirs *net.UnixConn

	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	file    *os.File
	gz      *pgzip.Writer
	tmpPath string
	written int64
}

// New builds a Recorder writing segments under dir, rotating after
// rotateBytes of uncompressed content. archiver may be nil to disable
// archival.
func New(dir string, rotateBytes int64, archiver Archiver, logger *slog.Logger) (*Recorder, error) {
	if rotateBytes <= 0 {
		return nil, fmt.Errorf("recorder: rotateBytes must be > 0")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("recorder: creating directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		dir:         dir,
		rotateBytes: rotateBytes,
		archiver:    archiver,
		logger:      logger.With("component", "monitor_recorder"),
	}, nil
}

// Start opens the first segment, installs itself as the monitor tap, and
// begins draining mirrored envelopes in the background.
func (r *Recorder) Start() error {
	if err := r.openSegment(); err != nil {
		return err
	}

	ours, theirs, err := unixSocketpair()
	if err != nil {
		return fmt.Errorf("recorder: socketpair: %w", err)
	}
	r.ours = ours
	r.theirs = theirs
	r.stop = make(chan struct{})

	monitor.Set(theirs)

	r.wg.Add(1)
	go r.run()
	return nil
}

// Stop deactivates the monitor tap and closes the current segment.
func (r *Recorder) Stop() {
	monitor.Set(nil)
	if r.ours != nil {
		r.ours.Close()
	}
	if r.theirs != nil {
		r.theirs.Close()
	}
	if r.stop != nil {
		close(r.stop)
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeSegmentLocked()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		env, err := wire.ReadEnvelope(r.ours)
		if err != nil {
			select {
			case <-r.stop:
			default:
				r.logger.Warn("monitor recorder: read failed, stopping", "error", err)
			}
			return
		}

		doc, err := wire.Encode(env)
		if err != nil {
			r.logger.Warn("monitor recorder: failed to encode tapped envelope", "error", err)
			continue
		}
		if err := r.append(doc); err != nil {
			r.logger.Warn("monitor recorder: failed to append tapped envelope", "error", err)
		}
	}
}

func (r *Recorder) append(doc []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.gz.Write(doc); err != nil {
		return err
	}
	r.written += int64(len(doc))

	if r.written >= r.rotateBytes {
		return r.rotateLocked()
	}
	return nil
}

func (r *Recorder) openSegment() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openSegmentLocked()
}

func (r *Recorder) openSegmentLocked() error {
	f, err := os.CreateTemp(r.dir, "segment-*.tmp")
	if err != nil {
		return fmt.Errorf("recorder: creating segment: %w", err)
	}
	r.file = f
	r.tmpPath = f.Name()
	r.gz = pgzip.NewWriter(f)
	r.written = 0
	return nil
}

func (r *Recorder) rotateLocked() error {
	finalPath, err := r.closeSegmentLocked()
	if err != nil {
		return err
	}
	if r.archiver != nil && finalPath != "" {
		go func(path string) {
			if err := r.archiver.Archive(path); err != nil {
				r.logger.Warn("monitor recorder: archive failed, segment kept on disk and not uploaded again", "path", path, "error", err)
				return
			}
			if err := os.Remove(path); err != nil {
				r.logger.Warn("monitor recorder: failed to remove archived segment", "path", path, "error", err)
			}
		}(finalPath)
	}
	return r.openSegmentLocked()
}

// closeSegmentLocked flushes and renames the current segment to its final
// timestamped name. Returns "" if there was nothing open.
func (r *Recorder) closeSegmentLocked() (string, error) {
	if r.gz == nil {
		return "", nil
	}
	if err := r.gz.Close(); err != nil {
		r.file.Close()
		return "", fmt.Errorf("recorder: closing segment writer: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return "", fmt.Errorf("recorder: closing segment file: %w", err)
	}

	if r.written == 0 {
		os.Remove(r.tmpPath)
		r.gz = nil
		r.file = nil
		return "", nil
	}

	timestamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15-04-05.000"), ".", "-")
	finalPath := filepath.Join(r.dir, fmt.Sprintf("%s.bson.gz", timestamp))
	if err := os.Rename(r.tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("recorder: finalizing segment: %w", err)
	}

	r.gz = nil
	r.file = nil
	return finalPath, nil
}

// Segments lists completed segment files in the recorder's directory,
// oldest first.
func Segments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("recorder: reading directory: %w", err)
	}
	var segments []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".bson.gz") {
			segments = append(segments, e.Name())
		}
	}
	sort.Strings(segments)
	return segments, nil
}
