// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNova/pkg/logging"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	return m
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		out[filepath.ToSlash(rel)] = string(data)
		return err
	}))
	return out
}

func TestCreate_Idempotent(t *testing.T) {
	m := newManager(t)
	p1, err := m.Create("r1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(p1, "keep"), []byte("x"), 0o644))

	p2, err := m.Create("r1")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.FileExists(t, filepath.Join(p2, "keep"))
}

func TestCreate_DistinctPerRequest(t *testing.T) {
	m := newManager(t)
	a, err := m.Create("a")
	require.NoError(t, err)
	b, err := m.Create("b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPath_InvalidID(t *testing.T) {
	m := newManager(t)
	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := m.Create(id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
	}
}

func TestApplyPatch(t *testing.T) {
	m := newManager(t)
	_, err := m.ApplyPatch("r1", "a.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	ws, err := m.Create("r1")
	require.NoError(t, err)

	_, err = m.ApplyPatch("r1", "pkg/deep/file.go", []byte("package deep\n"))
	require.NoError(t, err)
	_, err = m.ApplyPatch("r1", "pkg/deep/file.go", []byte("package deeper\n"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"pkg/deep/file.go": "package deeper\n"}, readTree(t, ws))
}

func TestApplyPatch_RejectsEscape(t *testing.T) {
	m := newManager(t)
	_, err := m.Create("r1")
	require.NoError(t, err)

	for _, rel := range []string{"../r2/x", "../../secret", "/etc/passwd", "", "."} {
		_, err := m.ApplyPatch("r1", rel, []byte("x"))
		assert.ErrorIs(t, err, ErrPathEscape, rel)
	}
	assert.NoDirExists(t, filepath.Join(m.Root(), "r2"))
}

func TestMerge_OverwritesAndIsIdempotent(t *testing.T) {
	m := newManager(t)
	_, err := m.Create("r1")
	require.NoError(t, err)
	_, err = m.ApplyPatch("r1", "a.txt", []byte("new"))
	require.NoError(t, err)
	_, err = m.ApplyPatch("r1", "b/c.txt", []byte("2"))
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "untouched.txt"), []byte("u"), 0o644))

	n, err := m.Merge("r1", dest)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	once := readTree(t, dest)

	_, err = m.Merge("r1", dest)
	require.NoError(t, err)
	assert.Equal(t, once, readTree(t, dest))
	assert.Equal(t, map[string]string{"a.txt": "new", "b/c.txt": "2", "untouched.txt": "u"}, once)

	assert.True(t, m.Exists("r1"), "merge leaves the workspace in place")
}

func TestMerge_MissingWorkspace(t *testing.T) {
	m := newManager(t)
	_, err := m.Merge("ghost", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiscard(t *testing.T) {
	m := newManager(t)
	removed, err := m.Discard("r1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = m.Create("r1")
	require.NoError(t, err)
	_, err = m.ApplyPatch("r1", "x/y.txt", []byte("z"))
	require.NoError(t, err)

	removed, err = m.Discard("r1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, m.Exists("r1"))
}

func TestFiles(t *testing.T) {
	m := newManager(t)
	_, err := m.Create("r1")
	require.NoError(t, err)
	for _, rel := range []string{"z.txt", "a/b.txt"} {
		_, err = m.ApplyPatch("r1", rel, []byte("x"))
		require.NoError(t, err)
	}
	files, err := m.Files("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.txt", "z.txt"}, files)
}
