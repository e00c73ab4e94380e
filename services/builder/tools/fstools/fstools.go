// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fstools provides the filesystem tools exposed through the tool
// gateway: read_file, list_dir, write_file and delete_path.
//
// Every path argument is resolved inside one of the allow-listed roots
// before the handler touches the filesystem.
package fstools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
	"github.com/AleutianAI/AleutianNova/services/builder/tools"
)

// MaxReadBytes bounds read_file output.
const MaxReadBytes = 1 << 20

const rootDoc = "allow-listed root: integrated (default), workspace or base"

// PathArgs addresses a single path under a root.
type PathArgs struct {
	Path string `json:"path" validate:"required"`
	Root string `json:"root" validate:"omitempty,oneof=integrated workspace base"`
}

// ListArgs are the arguments of list_dir.
type ListArgs struct {
	Path string `json:"path"`
	Root string `json:"root" validate:"omitempty,oneof=integrated workspace base"`
}

// WriteArgs are the arguments of write_file.
type WriteArgs struct {
	Path      string `json:"path" validate:"required"`
	Root      string `json:"root" validate:"omitempty,oneof=integrated workspace base"`
	Content   string `json:"content"`
	Overwrite *bool  `json:"overwrite"`
}

// ReadOutput is returned by read_file.
type ReadOutput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Entry is one list_dir item. Size is reported for files only.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  *int64 `json:"size,omitempty"`
}

// ListOutput is returned by list_dir.
type ListOutput struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// WriteOutput is returned by write_file.
type WriteOutput struct {
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Created bool   `json:"created"`
}

// DeleteOutput is returned by delete_path.
type DeleteOutput struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// Tools returns the filesystem tools bound to roots.
func Tools(roots *tools.Roots) []tools.Tool {
	rootParam := tools.Param{Name: "root", Type: "string", Description: rootDoc}
	return []tools.Tool{
		tools.New(tools.Definition{
			Name:        "read_file",
			Description: "Read a text file.",
			Params: []tools.Param{
				{Name: "path", Type: "string", Description: "file path relative to root", Required: true},
				rootParam,
			},
		}, func(_ context.Context, a PathArgs) (any, error) {
			return readFile(roots, a)
		}),
		tools.New(tools.Definition{
			Name:        "list_dir",
			Description: "List a directory.",
			Params: []tools.Param{
				{Name: "path", Type: "string", Description: "directory relative to root, default \".\""},
				rootParam,
			},
		}, func(_ context.Context, a ListArgs) (any, error) {
			return listDir(roots, a)
		}),
		tools.New(tools.Definition{
			Name:        "write_file",
			Description: "Write a text file, creating parent directories.",
			Dangerous:   true,
			Params: []tools.Param{
				{Name: "path", Type: "string", Description: "file path relative to root", Required: true},
				{Name: "content", Type: "string", Description: "file content"},
				{Name: "overwrite", Type: "bool", Description: "replace an existing file, default true"},
				rootParam,
			},
		}, func(_ context.Context, a WriteArgs) (any, error) {
			return writeFile(roots, a)
		}),
		tools.New(tools.Definition{
			Name:        "delete_path",
			Description: "Delete a file or directory tree.",
			Dangerous:   true,
			Params: []tools.Param{
				{Name: "path", Type: "string", Description: "path relative to root", Required: true},
				rootParam,
			},
		}, func(_ context.Context, a PathArgs) (any, error) {
			return deletePath(roots, a)
		}),
	}
}

func readFile(roots *tools.Roots, a PathArgs) (*ReadOutput, error) {
	path, err := roots.Resolve(a.Root, a.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, statErr(a.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", tools.ErrInvalidArgs, a.Path)
	}

	buf := make([]byte, min(info.Size(), MaxReadBytes))
	n, err := io.ReadFull(f, buf)
	if err != nil {
		return nil, err
	}
	return &ReadOutput{
		Path:      a.Path,
		Content:   string(buf[:n]),
		Size:      info.Size(),
		Truncated: info.Size() > MaxReadBytes,
	}, nil
}

func listDir(roots *tools.Roots, a ListArgs) (*ListOutput, error) {
	rel := a.Path
	if rel == "" {
		rel = "."
	}
	path, err := roots.Resolve(a.Root, rel)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, statErr(rel, err)
	}

	out := &ListOutput{Path: rel, Entries: make([]Entry, 0, len(dirents))}
	for _, d := range dirents {
		e := Entry{Name: d.Name(), IsDir: d.IsDir()}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size := info.Size()
				e.Size = &size
			}
		}
		out.Entries = append(out.Entries, e)
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })
	return out, nil
}

func writeFile(roots *tools.Roots, a WriteArgs) (*WriteOutput, error) {
	path, err := roots.Resolve(a.Root, a.Path)
	if err != nil {
		return nil, err
	}
	if err := refuseRoot(roots, a.Root, path); err != nil {
		return nil, err
	}

	overwrite := a.Overwrite == nil || *a.Overwrite
	info, err := os.Stat(path)
	exists := err == nil
	switch {
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, err
	case exists && info.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", tools.ErrInvalidArgs, a.Path)
	case exists && !overwrite:
		return nil, fmt.Errorf("%w: %s", tools.ErrAlreadyExists, a.Path)
	}

	perm := os.FileMode(0o644)
	if exists {
		perm = info.Mode().Perm()
	}
	if err := fsutil.WriteFileAtomic(path, []byte(a.Content), perm); err != nil {
		return nil, fmt.Errorf("write %s: %w", a.Path, err)
	}
	return &WriteOutput{Path: a.Path, Bytes: len(a.Content), Created: !exists}, nil
}

func deletePath(roots *tools.Roots, a PathArgs) (*DeleteOutput, error) {
	path, err := roots.Resolve(a.Root, a.Path)
	if err != nil {
		return nil, err
	}
	if err := refuseRoot(roots, a.Root, path); err != nil {
		return nil, err
	}
	info, err := os.Lstat(path)
	if err != nil {
		return nil, statErr(a.Path, err)
	}
	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", a.Path, err)
	}
	return &DeleteOutput{Path: a.Path, IsDir: info.IsDir()}, nil
}

// refuseRoot rejects operations that would replace or remove the root itself.
func refuseRoot(roots *tools.Roots, name, path string) error {
	dir, err := roots.Dir(name)
	if err != nil {
		return err
	}
	if filepath.Clean(path) == filepath.Clean(dir) {
		return fmt.Errorf("%w: refusing to modify the root directory", tools.ErrInvalidArgs)
	}
	return nil
}

func statErr(rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", tools.ErrNotFound, rel)
	}
	return err
}
