// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"log/slog"
	"path/filepath"
)

// Manager serializes work per request and per destination tree.
//
// # Description
//
// A request key guards the {snapshot, patch, merge, restore} sequence for
// one request identifier. A tree key guards any operation that writes into
// a shared destination tree. Tree keys are additionally backed by a flock
// when a TreeLocker is configured, so two nova processes sharing a
// canonical tree also exclude each other.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	keys   *Keyed
	trees  *TreeLocker
	logger *slog.Logger
}

// NewManager creates a Manager. trees may be nil for in-process locking only.
func NewManager(trees *TreeLocker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		keys:   NewKeyed(),
		trees:  trees,
		logger: logger.With("component", "lock"),
	}
}

// Acquire locks requestID (if non-empty) and every tree, returning a single
// release function. Keys are taken in a fixed order.
func (m *Manager) Acquire(ctx context.Context, requestID string, trees ...string) (func(), error) {
	absTrees := make([]string, 0, len(trees))
	keys := make([]string, 0, len(trees)+1)
	if requestID != "" {
		keys = append(keys, "req:"+requestID)
	}
	for _, tree := range trees {
		abs, err := filepath.Abs(tree)
		if err != nil {
			return nil, err
		}
		absTrees = append(absTrees, abs)
		keys = append(keys, "tree:"+abs)
	}

	release, err := m.keys.LockAll(ctx, keys...)
	if err != nil {
		return nil, err
	}
	if m.trees == nil || len(absTrees) == 0 {
		return release, nil
	}

	absTrees = dedupSorted(absTrees)
	fileReleases := make([]func(), 0, len(absTrees))
	releaseAll := func() {
		for i := len(fileReleases) - 1; i >= 0; i-- {
			fileReleases[i]()
		}
		release()
	}
	for _, tree := range absTrees {
		r, err := m.trees.Acquire(ctx, tree)
		if err != nil {
			m.logger.Warn("tree lock not acquired", slog.String("tree", tree), slog.String("error", err.Error()))
			releaseAll()
			return nil, err
		}
		fileReleases = append(fileReleases, r)
	}
	return releaseAll, nil
}
