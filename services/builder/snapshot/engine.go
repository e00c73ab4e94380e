// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianNova/pkg/validation"
	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
)

const (
	tracerName = "nova.snapshot"

	archiveExt  = ".zip"
	metadataExt = ".json"

	// stalePartialAge is how old a temp file must be before NewEngine
	// treats it as a crash leftover and removes it.
	stalePartialAge = time.Hour
)

// Config configures an Engine.
type Config struct {
	// Root is the storage area. Each request gets Root/<request_id>/.
	Root string

	Logger *slog.Logger

	// Mirror, when set, receives every committed archive and metadata file.
	Mirror Mirror

	// MirrorPrefix is prepended to mirrored object names.
	MirrorPrefix string

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Engine creates and lists snapshots.
//
// # Commit protocol
//
// The archive is streamed into a temp file, synced, and renamed to
// <id>.zip. Only then is <id>.json written the same way. The metadata file
// is the commit record: a snapshot exists iff its metadata exists, and every
// metadata file points at a complete archive. Crash leftovers (temp files,
// archives with no metadata) are invisible to List and swept on startup.
//
// Thread Safety: Safe for concurrent use. Snapshots are immutable once
// committed; the engine never edits or deletes them.
type Engine struct {
	root         string
	logger       *slog.Logger
	mirror       Mirror
	mirrorPrefix string
	now          func() time.Time
}

// NewEngine creates the storage root and sweeps stale crash leftovers.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Root == "" {
		return nil, errors.New("snapshot: root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot root: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		root:         root,
		logger:       logger.With("component", "snapshot"),
		mirror:       cfg.Mirror,
		mirrorPrefix: cfg.MirrorPrefix,
		now:          now,
	}
	e.sweep()
	return e, nil
}

// Root returns the absolute storage root.
func (e *Engine) Root() string { return e.root }

// CreateRequest describes one snapshot to take.
type CreateRequest struct {
	RequestID  string
	SourceRoot string

	// Subset lists files or directories relative to SourceRoot. Empty means
	// everything. Missing entries are skipped.
	Subset []string

	Note string
}

// Create archives the source tree and commits a snapshot.
//
// # Description
//
// Resolves SourceRoot to an absolute path, collects the files (all of them,
// or those under each Subset entry), writes a deflate zip while hashing it,
// and commits archive then metadata. Symlinks are not followed or stored.
//
// # Outputs
//
//   - *Snapshot: The committed metadata.
//   - error: ErrNotFound if SourceRoot does not exist, ErrSubsetEscape for a
//     subset entry outside SourceRoot, or an I/O failure. On error nothing
//     is committed.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (_ *Snapshot, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "snapshot.Create",
		attribute.String("request_id", req.RequestID))
	start := time.Now()
	var snap *Snapshot
	defer func() {
		var size int64
		if snap != nil {
			size = snap.Size
		}
		recordCreate(ctx, time.Since(start), size, err)
		telemetry.EndSpan(span, err)
	}()

	if err := checkName(req.RequestID); err != nil {
		return nil, err
	}
	source, err := filepath.Abs(req.SourceRoot)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: source root %s", ErrNotFound, source)
	}

	set, err := collect(source, req.Subset, e.root)
	if err != nil {
		return nil, err
	}
	if len(set.links) > 0 {
		e.logger.Warn("symlinks not archived",
			slog.String("request_id", req.RequestID),
			slog.Int("count", len(set.links)),
			slog.String("first", set.links[0]))
	}

	createdAt := e.now().UTC()
	id := createdAt.Format(IDLayout) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	dir := e.requestDir(req.RequestID)
	archivePath := filepath.Join(dir, id+archiveExt)

	var checksum string
	if err := fsutil.WriteAtomic(archivePath, 0o640, func(w io.Writer) error {
		var werr error
		checksum, werr = writeArchive(w, source, set.files)
		return werr
	}); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return nil, err
	}

	subset := req.Subset
	if subset == nil {
		subset = []string{}
	}
	snap = &Snapshot{
		ID:              id,
		RequestID:       req.RequestID,
		CreatedAt:       createdAt,
		ArchivePath:     archivePath,
		Checksum:        checksum,
		SourceRoot:      source,
		Subset:          subset,
		Note:            req.Note,
		Files:           len(set.files),
		SkippedSymlinks: len(set.links),
		Size:            archiveInfo.Size(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	metadataPath := filepath.Join(dir, id+metadataExt)
	if err := fsutil.WriteFileAtomic(metadataPath, data, 0o640); err != nil {
		_ = os.Remove(archivePath)
		snap = nil
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	if err := fsutil.SyncDir(dir); err != nil {
		e.logger.Warn("sync snapshot dir", slog.String("error", err.Error()))
	}

	e.logger.Info("snapshot committed",
		slog.String("request_id", req.RequestID),
		slog.String("snapshot_id", id),
		slog.Int("files", len(set.files)),
		slog.Int64("bytes", snap.Size),
	)
	e.mirrorSnapshot(ctx, snap, metadataPath)
	return snap, nil
}

// List returns snapshots newest first. An empty requestID lists every
// request. Unknown requests yield an empty list.
func (e *Engine) List(requestID string) ([]Snapshot, error) {
	var dirs []string
	if requestID != "" {
		if err := checkName(requestID); err != nil {
			return nil, err
		}
		dirs = []string{e.requestDir(requestID)}
	} else {
		entries, err := os.ReadDir(e.root)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				dirs = append(dirs, filepath.Join(e.root, entry.Name()))
			}
		}
	}

	var out []Snapshot
	for _, dir := range dirs {
		snaps, err := e.readDir(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, snaps...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID == out[j].ID {
			return out[i].RequestID > out[j].RequestID
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Get returns one snapshot of a request.
func (e *Engine) Get(requestID, snapshotID string) (*Snapshot, error) {
	if err := checkName(requestID); err != nil {
		return nil, err
	}
	if err := checkName(snapshotID); err != nil {
		return nil, err
	}
	snap, err := readMetadata(filepath.Join(e.requestDir(requestID), snapshotID+metadataExt))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: snapshot %s for request %s", ErrNotFound, snapshotID, requestID)
	}
	return snap, err
}

// Latest returns the newest snapshot of a request, or ErrNotFound.
func (e *Engine) Latest(requestID string) (*Snapshot, error) {
	snaps, err := e.List(requestID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: no snapshot for request %s", ErrNotFound, requestID)
	}
	return &snaps[0], nil
}

func (e *Engine) readDir(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metadataExt) || strings.HasPrefix(name, ".") {
			continue
		}
		snap, err := readMetadata(filepath.Join(dir, name))
		if err != nil {
			e.logger.Warn("skipping unreadable snapshot metadata",
				slog.String("path", filepath.Join(dir, name)),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, *snap)
	}
	return out, nil
}

func readMetadata(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &snap, nil
}

func (e *Engine) requestDir(requestID string) string {
	return filepath.Join(e.root, requestID)
}

// sweep removes temp files and uncommitted archives older than
// stalePartialAge. Younger ones may belong to a concurrent writer.
func (e *Engine) sweep() {
	cutoff := e.now().Add(-stalePartialAge)
	dirs, err := os.ReadDir(e.root)
	if err != nil {
		return
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(e.root, d.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			stale := strings.Contains(name, fsutil.PartialMarker)
			if !stale && strings.HasSuffix(name, archiveExt) {
				_, err := os.Stat(filepath.Join(dir, strings.TrimSuffix(name, archiveExt)+metadataExt))
				stale = os.IsNotExist(err)
			}
			if !stale {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				e.logger.Info("removed uncommitted snapshot artifact", slog.String("path", filepath.Join(dir, name)))
			}
		}
	}
}

func (e *Engine) mirrorSnapshot(ctx context.Context, snap *Snapshot, metadataPath string) {
	if e.mirror == nil {
		return
	}
	base := path.Join(e.mirrorPrefix, snap.RequestID, snap.ID)
	uploads := [][2]string{
		{snap.ArchivePath, base + archiveExt},
		{metadataPath, base + metadataExt},
	}
	for _, u := range uploads {
		local, object := u[0], u[1]
		if err := e.mirror.Upload(ctx, local, object); err != nil {
			e.logger.Warn("snapshot mirror upload failed",
				slog.String("snapshot_id", snap.ID),
				slog.String("object", object),
				slog.String("error", err.Error()))
		}
	}
}

func checkName(name string) error {
	if validation.ValidatePathSegment(name) != nil {
		return fmt.Errorf("%w: invalid identifier %q", ErrNotFound, name)
	}
	return nil
}
