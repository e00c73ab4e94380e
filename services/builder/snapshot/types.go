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
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a source root or snapshot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity is returned when an archive's checksum differs from the
	// value recorded at creation.
	ErrIntegrity = errors.New("snapshot integrity check failed")

	// ErrSubsetEscape is returned when a subset entry resolves outside the
	// source root.
	ErrSubsetEscape = errors.New("subset path escapes source root")
)

// IDLayout is the timestamp part of a snapshot ID. Fixed width, so
// lexicographic order of IDs is chronological order.
const IDLayout = "20060102T150405.000000Z"

// Snapshot is the immutable metadata record written beside each archive.
type Snapshot struct {
	ID          string    `json:"snapshot_id"`
	RequestID   string    `json:"request_id"`
	CreatedAt   time.Time `json:"timestamp"`
	ArchivePath string    `json:"archive_path"`

	// Checksum is the hex SHA-256 of the archive bytes.
	Checksum string `json:"archive_sha256"`

	SourceRoot string `json:"source_root"`

	// Subset lists the relative paths that were requested. Empty means the
	// whole source root.
	Subset []string `json:"subset"`

	Note string `json:"note"`

	// Files is the number of files stored in the archive.
	Files int `json:"files"`

	// SkippedSymlinks is the number of symbolic links found in the source
	// and left out of the archive. Restoring cannot recreate them.
	SkippedSymlinks int `json:"skipped_symlinks"`

	// Size is the archive size in bytes.
	Size int64 `json:"size_bytes"`
}

// Mirror receives a copy of every committed snapshot, e.g. an object store.
type Mirror interface {
	// Upload copies the local file to objectName.
	Upload(ctx context.Context, localPath, objectName string) error
}
