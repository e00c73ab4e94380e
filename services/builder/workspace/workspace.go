// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace manages the disposable per-request scratch trees that
// hold proposed changes until they are merged or discarded.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/AleutianAI/AleutianNova/pkg/validation"
	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
)

// Sentinel errors.
var (
	// ErrNotFound is returned for operations on a workspace that does not exist.
	ErrNotFound = errors.New("workspace not found")

	// ErrPathEscape is returned when a patch path resolves outside the workspace.
	ErrPathEscape = errors.New("path escapes workspace")

	// ErrInvalidID is returned for request ids that cannot name a directory.
	ErrInvalidID = errors.New("invalid workspace id")
)

// Manager owns Root/<request_id> directories. Workspaces are never shared:
// each request id maps to exactly one directory.
//
// Thread Safety: Methods are safe to call concurrently for different
// requests. Per-request ordering is the caller's job.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates the workspaces root.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspaces root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: abs, logger: logger.With("component", "workspace")}, nil
}

// Root returns the absolute workspaces root.
func (m *Manager) Root() string { return m.root }

// Path returns the workspace directory for requestID without creating it.
func (m *Manager) Path(requestID string) (string, error) {
	if validation.ValidatePathSegment(requestID) != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, requestID)
	}
	return filepath.Join(m.root, requestID), nil
}

// Exists reports whether the workspace directory exists.
func (m *Manager) Exists(requestID string) bool {
	p, err := m.Path(requestID)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Create returns the workspace path, creating the directory if needed.
func (m *Manager) Create(requestID string) (string, error) {
	p, err := m.Path(requestID)
	if err != nil {
		return "", err
	}
	if m.Exists(requestID) {
		return p, nil
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	m.logger.Info("workspace created", slog.String("request_id", requestID), slog.String("path", p))
	return p, nil
}

// existing returns the path of a workspace that must already exist.
func (m *Manager) existing(requestID string) (string, error) {
	p, err := m.Path(requestID)
	if err != nil {
		return "", err
	}
	if !m.Exists(requestID) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return p, nil
}

// Resolve maps a workspace-relative path to an absolute one, rejecting any
// path that leaves the workspace, lexically or through a symlink.
func (m *Manager) Resolve(requestID, relPath string) (string, error) {
	ws, err := m.existing(requestID)
	if err != nil {
		return "", err
	}
	if clean := filepath.Clean(filepath.FromSlash(relPath)); relPath == "" || clean == "." {
		return "", fmt.Errorf("%w: %q names the workspace itself", ErrPathEscape, relPath)
	}
	target, err := fsutil.ResolveWithin(ws, relPath)
	if errors.Is(err, fsutil.ErrEscape) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, relPath)
	}
	return target, err
}

// ApplyPatch writes content as the full content of relPath in the
// workspace, creating parents and replacing any existing file.
func (m *Manager) ApplyPatch(requestID, relPath string, content []byte) (string, error) {
	target, err := m.Resolve(requestID, relPath)
	if err != nil {
		return "", err
	}
	if err := fsutil.WriteFileAtomic(target, content, 0o644); err != nil {
		return "", fmt.Errorf("apply patch %s: %w", relPath, err)
	}
	m.logger.Info("patch applied",
		slog.String("request_id", requestID),
		slog.String("path", relPath),
		slog.Int("bytes", len(content)))
	return target, nil
}

// Merge copies every workspace file into destination, overwriting on
// conflict. The workspace is left in place. Merging the same workspace
// twice yields the same tree as merging once.
func (m *Manager) Merge(requestID, destination string) (int, error) {
	ws, err := m.existing(requestID)
	if err != nil {
		return 0, err
	}
	dest, err := filepath.Abs(destination)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	n, err := fsutil.CopyTree(ws, dest)
	if err != nil {
		return n, fmt.Errorf("merge workspace %s: %w", requestID, err)
	}
	m.logger.Info("workspace merged",
		slog.String("request_id", requestID),
		slog.String("destination", dest),
		slog.Int("files", n))
	return n, nil
}

// Discard removes the workspace recursively. It reports whether a
// workspace existed; a missing workspace is not an error.
func (m *Manager) Discard(requestID string) (bool, error) {
	p, err := m.Path(requestID)
	if err != nil {
		return false, err
	}
	if !m.Exists(requestID) {
		return false, nil
	}
	if err := os.RemoveAll(p); err != nil {
		return false, fmt.Errorf("discard workspace: %w", err)
	}
	m.logger.Info("workspace discarded", slog.String("request_id", requestID))
	return true, nil
}

// Files lists the workspace's regular files as sorted slash-separated
// relative paths.
func (m *Manager) Files(requestID string) ([]string, error) {
	ws, err := m.existing(requestID)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(ws, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(ws, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
