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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_CreatesParentsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "file.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteAtomic_FailureLeavesNoTrace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	require.NoError(t, WriteFileAtomic(path, []byte("original"), 0o644))

	err := WriteAtomic(path, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("half"))
		return errors.New("disk on fire")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), PartialMarker), "leftover %s", e.Name())
	}
}

func TestCopyTree_OverwritesAndCreates(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "b", "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b", "c.txt"), []byte("2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "a.txt"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "keep.txt"), []byte("k"), 0o644))

	n, err := CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for rel, want := range map[string]string{"a.txt": "new", "b/c.txt": "2", "keep.txt": "k"} {
		data, err := os.ReadFile(filepath.Join(dst, rel))
		require.NoError(t, err)
		assert.Equal(t, want, string(data), rel)
	}
	assert.DirExists(t, filepath.Join(dst, "b", "empty"))
}

func TestCopyTree_SkipsSymlinks(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(outside, []byte("s"), 0o644))
	if err := os.Symlink(outside, filepath.Join(src, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	n, err := CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoFileExists(t, filepath.Join(dst, "link"))
}

func TestCopyTree_RefusesSymlinkedDestinationDir(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b", "c.txt"), []byte("2"), 0o644))
	if err := os.Symlink(outside, filepath.Join(dst, "b")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	n, err := CopyTree(src, dst)
	require.ErrorIs(t, err, ErrEscape)
	assert.Equal(t, 0, n)
	assert.NoFileExists(t, filepath.Join(outside, "c.txt"))
	assert.NoFileExists(t, filepath.Join(dst, "a.txt"), "nothing is copied once a target escapes")
}

func TestCopyTree_RefusesSymlinkedDestinationFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secret, []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("new"), 0o644))
	if err := os.Symlink(secret, filepath.Join(dst, "a.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := CopyTree(src, dst)
	require.ErrorIs(t, err, ErrEscape)
	data, err := os.ReadFile(secret)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestWithin(t *testing.T) {
	root := filepath.FromSlash("/srv/root")
	tests := []struct {
		path string
		want bool
	}{
		{"/srv/root", true},
		{"/srv/root/a/b", true},
		{"/srv/root/..a", true},
		{"/srv/rootx", false},
		{"/srv", false},
		{"/etc/passwd", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Within(root, filepath.FromSlash(tt.path)), tt.path)
	}
}
