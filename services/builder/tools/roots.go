// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
)

// Allow-listed root selectors.
const (
	RootIntegrated = "integrated"
	RootWorkspace  = "workspace"
	RootBase       = "base"
)

// Roots maps root selectors to absolute directories. Every tool path is
// resolved against exactly one of them.
type Roots struct {
	dirs map[string]string
}

// NewRoots builds the allow-list. All three directories are required.
func NewRoots(integrated, workspace, base string) (*Roots, error) {
	r := &Roots{dirs: make(map[string]string, 3)}
	for name, dir := range map[string]string{
		RootIntegrated: integrated,
		RootWorkspace:  workspace,
		RootBase:       base,
	} {
		if dir == "" {
			return nil, fmt.Errorf("root %q is not configured", name)
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		r.dirs[name] = abs
	}
	return r, nil
}

// Names returns the selectors in a stable order.
func (r *Roots) Names() []string {
	return []string{RootIntegrated, RootWorkspace, RootBase}
}

// Dir returns the directory for a selector. An empty selector means
// RootIntegrated.
func (r *Roots) Dir(name string) (string, error) {
	if name == "" {
		name = RootIntegrated
	}
	dir, ok := r.dirs[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown root %q", ErrInvalidArgs, name)
	}
	return dir, nil
}

// Resolve returns the absolute path of rel inside the selected root. It
// touches nothing on disk beyond resolving symlinks of existing ancestors,
// and fails with ErrPathEscape for anything outside the root.
func (r *Roots) Resolve(name, rel string) (string, error) {
	dir, err := r.Dir(name)
	if err != nil {
		return "", err
	}
	path, err := fsutil.ResolveWithin(dir, rel)
	if errors.Is(err, fsutil.ErrEscape) {
		return "", fmt.Errorf("%w: %v", ErrPathEscape, err)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}
