// Copyright (c) 2025 rpcbus authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches every record to two
// handlers. Used by NewPeerLogger to write simultaneously to the hub's
// global handler and a peer's dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Check each handler's Enabled() before dispatching, so a DEBUG record
	// isn't sent to a primary handler that only accepts INFO or above.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the peer log must never block the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewPeerLogger builds a logger that writes both to baseLogger (global) and
// to a file dedicated to one connected peer:
//
//	{peerLogDir}/{peerName}/{connectionID}.log
//
// Returns the enriched logger, an io.Closer for the peer file, and the
// file's path (joined onto peerLogDir, so relative if peerLogDir is). The Closer must be called (defer) once the
// connection ends.
//
// If peerLogDir is empty, NewPeerLogger returns baseLogger unmodified
// (no-op).
func NewPeerLogger(baseLogger *slog.Logger, peerLogDir, peerName, connectionID string) (*slog.Logger, io.Closer, string, error) {
	if peerLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	dir := filepath.Join(peerLogDir, peerName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating peer log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, connectionID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening peer log file %s: %w", logPath, err)
	}

	// The peer file always uses JSON at DEBUG level, for maximum capture.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemovePeerLog removes a peer's connection log after a clean disconnect.
// No-op if peerLogDir is empty or the file doesn't exist.
func RemovePeerLog(peerLogDir, peerName, connectionID string) {
	if peerLogDir == "" {
		return
	}
	logPath := filepath.Join(peerLogDir, peerName, connectionID+".log")
	os.Remove(logPath)
}
