// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proctools

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNova/services/builder/tools"
)

func newGateway(t *testing.T, opts Options) (*tools.Gateway, map[string]string) {
	t.Helper()
	base := t.TempDir()
	dirs := map[string]string{}
	for _, name := range []string{tools.RootIntegrated, tools.RootWorkspace, tools.RootBase} {
		d := filepath.Join(base, name)
		require.NoError(t, os.MkdirAll(d, 0o755))
		dirs[name] = d
	}
	roots, err := tools.NewRoots(dirs[tools.RootIntegrated], dirs[tools.RootWorkspace], dirs[tools.RootBase])
	require.NoError(t, err)
	reg, err := tools.NewRegistry(Tools(roots, opts)...)
	require.NoError(t, err)
	return tools.NewGateway(reg), dirs
}

func dispatch(g *tools.Gateway, name string, args any, confirm bool) *tools.Result {
	raw, _ := json.Marshal(args)
	return g.Dispatch(context.Background(), tools.Invocation{Tool: name, Args: raw, Confirm: confirm})
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommand_UnmarshalJSON(t *testing.T) {
	var c Command
	require.NoError(t, json.Unmarshal([]byte(`"echo hi"`), &c))
	assert.Equal(t, "echo hi", c.Shell)
	assert.Nil(t, c.Argv)

	require.NoError(t, json.Unmarshal([]byte(`["echo","hi"]`), &c))
	assert.Equal(t, []string{"echo", "hi"}, c.Argv)
	assert.Empty(t, c.Shell)

	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestRunCommand_Gated(t *testing.T) {
	g, dirs := newGateway(t, Options{})
	marker := filepath.Join(dirs[tools.RootIntegrated], "ran")

	res := dispatch(g, "run_command", map[string]any{"cmd": "touch ran"}, false)
	assert.True(t, res.NeedsConfirmation())
	assert.NoFileExists(t, marker)
}

func TestRunCommand_ShellAndArgv(t *testing.T) {
	requireShell(t)
	g, dirs := newGateway(t, Options{})

	res := dispatch(g, "run_command", map[string]any{"cmd": "pwd; echo err >&2", "cwd_root": "workspace"}, true)
	require.True(t, res.OK(), "%+v", res.Error)
	out := res.Output.(*Output)
	assert.True(t, out.OK)
	assert.Equal(t, 0, out.ReturnCode)
	real, _ := filepath.EvalSymlinks(dirs[tools.RootWorkspace])
	assert.Equal(t, real, strings.TrimSpace(out.Stdout))
	assert.Equal(t, "err\n", out.Stderr)

	res = dispatch(g, "run_command", map[string]any{"cmd": []string{"sh", "-c", "exit 3"}}, true)
	require.True(t, res.OK(), "non-zero exit is not a dispatch failure")
	out = res.Output.(*Output)
	assert.False(t, out.OK)
	assert.Equal(t, 3, out.ReturnCode)
}

func TestRunCommand_InvalidArgs(t *testing.T) {
	g, _ := newGateway(t, Options{})
	for _, args := range []map[string]any{
		{},
		{"cmd": ""},
		{"cmd": []string{}},
		{"cmd": "true", "cwd_root": "nowhere"},
		{"cmd": "true", "timeout": -1},
	} {
		res := dispatch(g, "run_command", args, true)
		require.NotNil(t, res.Error, "%v", args)
		assert.Equal(t, tools.CodeInvalidArgs, res.Error.Code, "%v", args)
	}
}

func TestRunCommand_NotFound(t *testing.T) {
	g, _ := newGateway(t, Options{})
	res := dispatch(g, "run_command", map[string]any{"cmd": []string{"definitely-not-a-binary-nova"}}, true)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeNotFound, res.Error.Code)
}

func TestRunCommand_Timeout(t *testing.T) {
	requireShell(t)
	g, _ := newGateway(t, Options{})

	start := time.Now()
	res := dispatch(g, "run_command", map[string]any{"cmd": "echo started; sleep 30", "timeout": 0.3}, true)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeTimeout, res.Error.Code)
	assert.Less(t, time.Since(start), 10*time.Second)

	out, ok := res.Output.(*Output)
	require.True(t, ok, "partial output kept")
	assert.True(t, out.TimedOut)
	assert.Contains(t, out.Stdout, "started")
}

func TestRunCommand_TruncatesOutput(t *testing.T) {
	requireShell(t)
	g, _ := newGateway(t, Options{MaxOutput: 16})
	res := dispatch(g, "run_command", map[string]any{"cmd": "printf '%0100d' 0"}, true)
	require.True(t, res.OK(), "%+v", res.Error)
	out := res.Output.(*Output)
	assert.True(t, out.Truncated)
	assert.True(t, strings.HasPrefix(out.Stdout, strings.Repeat("0", 16)))
	assert.Contains(t, out.Stdout, "[output truncated]")
}

func TestRunPythonFile(t *testing.T) {
	requireShell(t)
	// A shell stands in for the interpreter so the test does not need Python.
	g, dirs := newGateway(t, Options{Python: "sh"})
	script := filepath.Join(dirs[tools.RootWorkspace], "hello.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo \"hi $1\"\n"), 0o644))

	res := dispatch(g, "run_python_file", map[string]any{"path": "hello.sh", "root": "workspace", "args": []string{"there"}}, true)
	require.True(t, res.OK(), "%+v", res.Error)
	assert.Equal(t, "hi there\n", res.Output.(*Output).Stdout)

	res = dispatch(g, "run_python_file", map[string]any{"path": "missing.py"}, true)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodeNotFound, res.Error.Code)

	res = dispatch(g, "run_python_file", map[string]any{"path": "../../x.py", "root": "base"}, true)
	require.NotNil(t, res.Error)
	assert.Equal(t, tools.CodePathEscape, res.Error.Code)
}

func TestCapped(t *testing.T) {
	c := &capped{limit: 4}
	n, err := c.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, c.truncated)
	assert.True(t, strings.HasPrefix(c.String(), "abcd"))
}
