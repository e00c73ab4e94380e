// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fsutil holds the file primitives shared by snapshot, restore,
// workspace and the file tools: atomic writes, overwrite-copies of files and
// trees, and root containment checks.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PartialMarker appears in the name of every temp file created by
// WriteAtomic. Only stores that WriteAtomic alone writes to, such as the
// snapshot store, may treat it as a leftover; user trees can contain it.
const PartialMarker = ".partial-"

// WriteAtomic creates path by streaming fill into a temp file in the same
// directory, syncing it, and renaming it into place. Readers observe either
// the old file or the complete new one. Parent directories are created.
func WriteAtomic(path string, perm os.FileMode, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+PartialMarker+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return nil
}

// WriteFileAtomic is WriteAtomic for an in-memory payload.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// SyncDir fsyncs a directory so that renames inside it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// CopyFile copies src over dst, creating parents and keeping src's
// permission bits and modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := WriteAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	}); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// CopyTree copies every regular file under src into dst at the same relative
// path, overwriting existing files and creating directories as needed.
// Symlinks and special files are skipped. It returns the number of files
// copied.
//
// Every target is resolved with ResolveWithin before anything is written,
// so a symlink already present in dst cannot redirect the copy outside it.
// If any target escapes, ErrEscape is returned and dst is left untouched.
func CopyTree(src, dst string) (int, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, err
	}

	type step struct {
		from, to string
		dir      bool
	}
	var plan []step
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target, err := ResolveWithin(dst, rel)
		if err != nil {
			return err
		}
		plan = append(plan, step{from: path, to: target, dir: d.IsDir()})
		return nil
	})
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, s := range plan {
		if s.dir {
			if err := os.MkdirAll(s.to, 0o755); err != nil {
				return copied, err
			}
			continue
		}
		if err := CopyFile(s.from, s.to); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

// Within reports whether path is root or lies beneath it. Both must be
// absolute and clean; the check is lexical.
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
