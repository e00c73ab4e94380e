// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package restore replays snapshots onto destination trees.
//
// A restore never touches the destination until the archive checksum has
// been verified, and never extracts directly into it: the archive is
// unpacked into a fresh staging directory which is copied over the
// destination and then removed on every exit path.
package restore

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
	"github.com/AleutianAI/AleutianNova/services/builder/snapshot"
	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
)

const tracerName = "nova.restore"

// ErrUnsafeArchive is returned when an archive entry would extract outside
// the staging directory.
var ErrUnsafeArchive = errors.New("archive entry escapes staging directory")

// Status distinguishes restore and rollback outcomes.
type Status string

const (
	// StatusRestored means snapshot contents were copied over the destination.
	StatusRestored Status = "restored"

	// StatusNoSnapshot means rollback found no snapshot for the request. The
	// destination was not touched; only the workspace was discarded.
	StatusNoSnapshot Status = "no_snapshot_available"
)

// Result reports what a restore or rollback did.
type Result struct {
	Status      Status `json:"status"`
	RequestID   string `json:"request_id,omitempty"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	Destination string `json:"destination,omitempty"`

	// Files is the number of files written into the destination.
	Files int `json:"files"`

	// WorkspaceRemoved is true when rollback deleted an existing workspace.
	WorkspaceRemoved bool `json:"workspace_removed"`
}

// Snapshots is the subset of the snapshot engine rollback needs.
type Snapshots interface {
	Latest(requestID string) (*snapshot.Snapshot, error)
}

// Workspaces discards a request's workspace, reporting whether one existed.
type Workspaces interface {
	Discard(requestID string) (bool, error)
}

// Config configures an Engine.
type Config struct {
	Snapshots  Snapshots
	Workspaces Workspaces

	// StagingDir is where staging directories are created. Defaults to the
	// system temp dir.
	StagingDir string

	Logger *slog.Logger
}

// Engine performs restores and rollbacks.
//
// Thread Safety: Concurrent restores use distinct staging directories.
// Serializing restores that target the same destination is the caller's
// job (see lock.Manager).
type Engine struct {
	snapshots  Snapshots
	workspaces Workspaces
	stagingDir string
	logger     *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Snapshots == nil || cfg.Workspaces == nil {
		return nil, errors.New("restore: snapshots and workspaces are required")
	}
	staging := cfg.StagingDir
	if staging == "" {
		staging = os.TempDir()
	}
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		snapshots:  cfg.Snapshots,
		workspaces: cfg.Workspaces,
		stagingDir: staging,
		logger:     logger.With("component", "restore"),
	}, nil
}

// Restore verifies snap and copies its contents over destination.
//
// # Description
//
//  1. Recompute the archive checksum. On mismatch return
//     snapshot.ErrIntegrity without touching destination.
//  2. Extract the archive into a new, uniquely named staging directory.
//  3. Copy every staged file to destination at the same relative path,
//     overwriting existing files and creating parents.
//  4. Remove the staging directory, whether or not 2 and 3 succeeded.
//
// Files present in destination but absent from the snapshot are left
// alone. An empty destination uses the snapshot's source root.
//
// # Outputs
//
//   - *Result: StatusRestored and the number of files written.
//   - error: snapshot.ErrIntegrity, snapshot.ErrNotFound (archive missing),
//     ErrUnsafeArchive, or an I/O failure. A failure during step 3 can leave
//     destination partially restored.
func (e *Engine) Restore(ctx context.Context, snap *snapshot.Snapshot, destination string) (_ *Result, err error) {
	_, span := telemetry.StartSpan(ctx, tracerName, "restore.Restore",
		attribute.String("snapshot_id", snap.ID))
	start := time.Now()
	defer func() {
		recordRestore(ctx, time.Since(start), err)
		telemetry.EndSpan(span, err)
	}()

	if destination == "" {
		destination = snap.SourceRoot
	}
	dest, err := filepath.Abs(destination)
	if err != nil {
		return nil, err
	}

	if err := snapshot.Verify(snap); err != nil {
		e.logger.Warn("restore refused",
			slog.String("snapshot_id", snap.ID),
			slog.String("error", err.Error()))
		return nil, err
	}

	staging, err := os.MkdirTemp(e.stagingDir, ".nova_restore_")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			e.logger.Error("staging cleanup failed",
				slog.String("staging", staging),
				slog.String("error", rmErr.Error()))
		}
	}()

	if err := extract(snap.ArchivePath, staging); err != nil {
		return nil, fmt.Errorf("extract %s: %w", snap.ID, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	files, err := fsutil.CopyTree(staging, dest)
	if err != nil {
		return nil, fmt.Errorf("copy staged files: %w", err)
	}

	e.logger.Info("snapshot restored",
		slog.String("request_id", snap.RequestID),
		slog.String("snapshot_id", snap.ID),
		slog.String("destination", dest),
		slog.Int("files", files),
	)
	return &Result{
		Status:      StatusRestored,
		RequestID:   snap.RequestID,
		SnapshotID:  snap.ID,
		Destination: dest,
		Files:       files,
	}, nil
}

// Rollback restores the request's newest snapshot onto destination and then
// discards its workspace.
//
// With no snapshot on record it discards the workspace only and returns
// StatusNoSnapshot with a nil error. If the restore fails the workspace is
// kept so the caller can retry.
func (e *Engine) Rollback(ctx context.Context, requestID, destination string) (*Result, error) {
	snap, err := e.snapshots.Latest(requestID)
	if errors.Is(err, snapshot.ErrNotFound) {
		removed, derr := e.workspaces.Discard(requestID)
		if derr != nil {
			return nil, fmt.Errorf("discard workspace: %w", derr)
		}
		e.logger.Info("rollback without snapshot",
			slog.String("request_id", requestID),
			slog.Bool("workspace_removed", removed))
		return &Result{Status: StatusNoSnapshot, RequestID: requestID, WorkspaceRemoved: removed}, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := e.Restore(ctx, snap, destination)
	if err != nil {
		return nil, err
	}
	removed, err := e.workspaces.Discard(requestID)
	if err != nil {
		return res, fmt.Errorf("discard workspace after restore: %w", err)
	}
	res.WorkspaceRemoved = removed
	return res, nil
}

// extract unpacks archivePath into dir, refusing entries whose names would
// land outside dir.
func extract(archivePath, dir string) error {
	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		if zr != nil {
			zr.Close()
		}
		return fmt.Errorf("%w: %v", ErrUnsafeArchive, err)
	}
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		name := filepath.FromSlash(f.Name)
		target := filepath.Join(dir, name)
		if filepath.IsAbs(name) || !fsutil.Within(dir, target) || target == dir {
			return fmt.Errorf("%w: %q", ErrUnsafeArchive, f.Name)
		}
		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if mt := f.Modified; !mt.IsZero() {
		_ = os.Chtimes(target, mt, mt)
	}
	return nil
}
