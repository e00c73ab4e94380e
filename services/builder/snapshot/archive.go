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
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
)

// fileSet is what collect found under a source root.
type fileSet struct {
	// files holds absolute paths of regular files, in walk order.
	files []string
	// links holds symbolic links that were left out of the archive.
	links []string
}

// collect gathers the regular files to archive. Missing subset entries are
// skipped. Anything under exclude (the snapshot store itself, when it lives
// inside the source) is left out. Symlinks are never followed or stored;
// they are recorded in links instead.
func collect(root string, subset []string, exclude string) (fileSet, error) {
	var set fileSet
	if len(subset) == 0 {
		err := set.walk(root, exclude)
		return set, err
	}

	seen := make(map[string]struct{})
	for _, entry := range subset {
		target := filepath.Join(root, filepath.FromSlash(entry))
		if !fsutil.Within(root, target) {
			return fileSet{}, fmt.Errorf("%w: %s", ErrSubsetEscape, entry)
		}
		info, err := os.Lstat(target)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fileSet{}, err
		}
		if fsutil.Within(exclude, target) {
			continue
		}
		var found fileSet
		switch {
		case info.IsDir():
			if err := found.walk(target, exclude); err != nil {
				return fileSet{}, err
			}
		case info.Mode().IsRegular():
			found.files = []string{target}
		case info.Mode()&fs.ModeSymlink != 0:
			found.links = []string{target}
		}
		for _, f := range found.files {
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				set.files = append(set.files, f)
			}
		}
		for _, l := range found.links {
			if _, dup := seen[l]; !dup {
				seen[l] = struct{}{}
				set.links = append(set.links, l)
			}
		}
	}
	return set, nil
}

func (s *fileSet) walk(dir, exclude string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch {
		case d.IsDir() && path == exclude:
			return filepath.SkipDir
		case d.Type().IsRegular():
			s.files = append(s.files, path)
		case d.Type()&fs.ModeSymlink != 0:
			s.links = append(s.links, path)
		}
		return nil
	})
}

// writeArchive writes a deflate zip of files (named relative to root) to w
// and returns the hex SHA-256 of the bytes written.
func writeArchive(w io.Writer, root string, files []string) (string, error) {
	h := sha256.New()
	zw := zip.NewWriter(io.MultiWriter(w, h))
	for _, path := range files {
		if err := addFile(zw, root, path); err != nil {
			_ = zw.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finish archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func addFile(zw *zip.Writer, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", hdr.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("add %s: %w", hdr.Name, err)
	}
	return nil
}

// FileChecksum returns the hex SHA-256 of the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the archive checksum and compares it with the stored
// value. It returns ErrNotFound if the archive is gone and ErrIntegrity on a
// mismatch.
func Verify(s *Snapshot) error {
	actual, err := FileChecksum(s.ArchivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: archive %s", ErrNotFound, s.ArchivePath)
		}
		return fmt.Errorf("checksum archive: %w", err)
	}
	if !strings.EqualFold(actual, s.Checksum) {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrIntegrity, s.ID, s.Checksum, actual)
	}
	return nil
}
