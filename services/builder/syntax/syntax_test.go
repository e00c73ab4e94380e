// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Valid(t *testing.T) {
	cases := map[string]string{
		"main.go":  "package main\n\nfunc main() {}\n",
		"app.py":   "def hello():\n    return 1\n",
		"index.js": "function f(a) { return a + 1; }\n",
	}
	for name, src := range cases {
		errs, err := Check(context.Background(), name, []byte(src))
		require.NoError(t, err, name)
		assert.Empty(t, errs, name)
	}
}

func TestCheck_Invalid(t *testing.T) {
	errs, err := Check(context.Background(), "bad.py", []byte("def broken(:\n    pass\n"))
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, "bad.py", errs[0].Path)
	assert.Equal(t, 1, errs[0].Line)
	assert.Contains(t, errs[0].String(), "bad.py:1:")
}

func TestCheck_UnknownExtension(t *testing.T) {
	errs, err := Check(context.Background(), "notes.txt", []byte("def broken(:"))
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestCheckTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "ok.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "bad.go"), []byte("package pkg\nfunc {\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "hook.py"), []byte("def (:"), 0o644))

	checked, errs, err := CheckTree(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
	require.NotEmpty(t, errs)
	for _, e := range errs {
		assert.Equal(t, "pkg/bad.go", e.Path)
	}
}
