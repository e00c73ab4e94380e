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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned by TryAcquire when another process holds the lock.
var ErrLocked = errors.New("tree is locked by another process")

// pollInterval is how often Acquire retries a contended flock.
const pollInterval = 50 * time.Millisecond

// TreeLocker hands out advisory flock locks keyed by directory path.
//
// Lock files live in a dedicated directory rather than inside the locked
// tree, so snapshots and merges never see them. The file name is a hash of
// the tree's absolute path.
type TreeLocker struct {
	dir string
}

// NewTreeLocker creates the lock directory if needed.
func NewTreeLocker(dir string) (*TreeLocker, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &TreeLocker{dir: dir}, nil
}

// LockPath returns the lock file used for tree.
func (t *TreeLocker) LockPath(tree string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(tree)))
	return filepath.Join(t.dir, hex.EncodeToString(sum[:8])+".lock")
}

// TryAcquire takes the lock without waiting.
func (t *TreeLocker) TryAcquire(tree string) (func(), error) {
	f, err := os.OpenFile(t.LockPath(tree), os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryFlock(f); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d %s\n", os.Getpid(), tree)
	return func() {
		_ = unflock(f)
		_ = f.Close()
	}, nil
}

// Acquire waits for the lock until ctx is done.
func (t *TreeLocker) Acquire(ctx context.Context, tree string) (func(), error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		release, err := t.TryAcquire(tree)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock on %s: %w", tree, ctx.Err())
		case <-ticker.C:
		}
	}
}
