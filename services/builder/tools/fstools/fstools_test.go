// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fstools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNova/services/builder/tools"
)

type fixture struct {
	gw    *tools.Gateway
	dirs  map[string]string
	outer string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{dirs: map[string]string{}, outer: base}
	for _, name := range []string{tools.RootIntegrated, tools.RootWorkspace, tools.RootBase} {
		d := filepath.Join(base, name)
		require.NoError(t, os.MkdirAll(d, 0o755))
		f.dirs[name] = d
	}
	require.NoError(t, os.WriteFile(filepath.Join(base, "secret"), []byte("top secret"), 0o600))

	roots, err := tools.NewRoots(f.dirs[tools.RootIntegrated], f.dirs[tools.RootWorkspace], f.dirs[tools.RootBase])
	require.NoError(t, err)
	reg, err := tools.NewRegistry(Tools(roots)...)
	require.NoError(t, err)
	f.gw = tools.NewGateway(reg)
	return f
}

func (f *fixture) call(name string, args any, confirm bool) *tools.Result {
	raw, _ := json.Marshal(args)
	return f.gw.Dispatch(context.Background(), tools.Invocation{Tool: name, Args: raw, Confirm: confirm})
}

func TestDangerFlags(t *testing.T) {
	f := newFixture(t)
	danger := map[string]bool{}
	for _, d := range f.gw.List() {
		danger[d.Name] = d.Dangerous
	}
	assert.Equal(t, map[string]bool{
		"read_file":   false,
		"list_dir":    false,
		"write_file":  true,
		"delete_path": true,
	}, danger)
}

func TestReadFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.dirs["workspace"], "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dirs["workspace"], "pkg", "a.txt"), []byte("hello"), 0o644))

	res := f.call("read_file", map[string]any{"path": "pkg/a.txt", "root": "workspace"}, false)
	require.True(t, res.OK(), "%+v", res.Error)
	out := res.Output.(*ReadOutput)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, int64(5), out.Size)

	res = f.call("read_file", map[string]any{"path": "missing.txt"}, false)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeNotFound, res.Error.Code)

	res = f.call("read_file", map[string]any{"path": "pkg", "root": "workspace"}, false)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeInvalidArgs, res.Error.Code)

	res = f.call("read_file", map[string]any{"path": "a.txt", "root": "elsewhere"}, false)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeInvalidArgs, res.Error.Code)
}

func TestListDir(t *testing.T) {
	f := newFixture(t)
	dir := f.dirs[tools.RootIntegrated]
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))

	res := f.call("list_dir", map[string]any{}, false)
	require.True(t, res.OK(), "%+v", res.Error)
	out := res.Output.(*ListOutput)
	assert.Equal(t, ".", out.Path)
	require.Len(t, out.Entries, 2)

	assert.Equal(t, "a", out.Entries[0].Name)
	assert.True(t, out.Entries[0].IsDir)
	assert.Nil(t, out.Entries[0].Size)

	assert.Equal(t, "b.txt", out.Entries[1].Name)
	require.NotNil(t, out.Entries[1].Size)
	assert.Equal(t, int64(3), *out.Entries[1].Size)
}

func TestWriteFile(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.dirs[tools.RootIntegrated], "new", "file.txt")

	res := f.call("write_file", map[string]any{"path": "new/file.txt", "content": "v1"}, false)
	assert.True(t, res.NeedsConfirmation())
	assert.NoFileExists(t, target, "gated call must not write")

	res = f.call("write_file", map[string]any{"path": "new/file.txt", "content": "v1"}, true)
	require.True(t, res.OK(), "%+v", res.Error)
	assert.True(t, res.Output.(*WriteOutput).Created)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	res = f.call("write_file", map[string]any{"path": "new/file.txt", "content": "v2"}, true)
	require.True(t, res.OK())
	assert.False(t, res.Output.(*WriteOutput).Created)

	res = f.call("write_file", map[string]any{"path": "new/file.txt", "content": "v3", "overwrite": false}, true)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeAlreadyExists, res.Error.Code)
	data, _ = os.ReadFile(target)
	assert.Equal(t, "v2", string(data))
}

func TestDeletePath(t *testing.T) {
	f := newFixture(t)
	dir := f.dirs[tools.RootBase]
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tree", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree", "sub", "x"), nil, 0o644))

	res := f.call("delete_path", map[string]any{"path": "tree", "root": "base"}, false)
	assert.True(t, res.NeedsConfirmation())
	assert.DirExists(t, filepath.Join(dir, "tree"))

	res = f.call("delete_path", map[string]any{"path": "tree", "root": "base"}, true)
	require.True(t, res.OK(), "%+v", res.Error)
	assert.NoDirExists(t, filepath.Join(dir, "tree"))

	res = f.call("delete_path", map[string]any{"path": "tree", "root": "base"}, true)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeNotFound, res.Error.Code)

	res = f.call("delete_path", map[string]any{"path": ".", "root": "base"}, true)
	require.NotNil(t, res.Error)
	assert.DirExists(t, dir)
}

func TestPathEscape_EveryRoot(t *testing.T) {
	f := newFixture(t)
	for root := range f.dirs {
		for _, name := range []string{"read_file", "list_dir", "write_file", "delete_path"} {
			args := map[string]any{"path": "../../secret", "root": root, "content": "pwned"}
			if name != "write_file" {
				delete(args, "content")
			}
			res := f.call(name, args, true)
			require.NotNil(t, res.Error, "%s/%s", root, name)
			assert.Equal(t, tools.CodePathEscape, res.Error.Code, "%s/%s", root, name)
		}
	}
	data, err := os.ReadFile(filepath.Join(f.outer, "secret"))
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(data))
}

func TestPathEscape_Symlink(t *testing.T) {
	f := newFixture(t)
	link := filepath.Join(f.dirs[tools.RootWorkspace], "out")
	require.NoError(t, os.Symlink(f.outer, link))

	res := f.call("read_file", map[string]any{"path": "out/secret", "root": "workspace"}, false)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodePathEscape, res.Error.Code)
}
