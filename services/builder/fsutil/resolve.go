// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrEscape is returned by ResolveWithin for paths outside the root.
var ErrEscape = errors.New("path escapes root")

// ResolveWithin joins rel onto root and proves the result stays inside root.
//
// # Description
//
// The check runs in two stages and fails closed:
//
//  1. Lexical: rel must be relative and, once cleaned and joined, must not
//     climb above root.
//  2. Physical: the deepest existing ancestor of the target is resolved
//     with EvalSymlinks and must lie within the resolved root, so a symlink
//     inside root cannot redirect access elsewhere.
//
// No file is opened, created or modified. An empty rel or "." resolves to
// root itself.
//
// # Outputs
//
//   - string: Absolute target path (not symlink-resolved).
//   - error: ErrEscape wrapped with the offending path, or a resolution
//     failure other than "does not exist".
func ResolveWithin(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	native := filepath.FromSlash(rel)
	if filepath.IsAbs(native) || filepath.VolumeName(native) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrEscape, rel)
	}
	target := filepath.Join(absRoot, native)
	if !Within(absRoot, target) {
		return "", fmt.Errorf("%w: %q", ErrEscape, rel)
	}

	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("root %s: %w", absRoot, err)
		}
		return "", err
	}
	ancestor := target
	for {
		real, err := filepath.EvalSymlinks(ancestor)
		if err == nil {
			if !Within(realRoot, real) {
				return "", fmt.Errorf("%w: %q resolves to %s", ErrEscape, rel, real)
			}
			return target, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return "", fmt.Errorf("%w: %q", ErrEscape, rel)
		}
		ancestor = parent
	}
}
