// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proctools provides the process tools exposed through the tool
// gateway: run_command and run_python_file. Both are dangerous.
package proctools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/AleutianAI/AleutianNova/services/builder/tools"
)

const (
	DefaultTimeout   = 60 * time.Second
	MaxTimeout       = 30 * time.Minute
	DefaultMaxOutput = 64 << 10
	DefaultPython    = "python3"
)

// Options tune the process tools.
type Options struct {
	// Python is the interpreter used by run_python_file.
	Python string

	// DefaultTimeout applies when a call gives no timeout.
	DefaultTimeout time.Duration

	// MaxOutput caps captured stdout and stderr, each.
	MaxOutput int
}

func (o Options) withDefaults() Options {
	if o.Python == "" {
		o.Python = DefaultPython
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxOutput <= 0 {
		o.MaxOutput = DefaultMaxOutput
	}
	return o
}

// Command is either a shell string or an argv list.
type Command struct {
	Shell string
	Argv  []string
}

// UnmarshalJSON accepts "echo hi" or ["echo", "hi"].
func (c *Command) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Command{Shell: s}
		return nil
	}
	var argv []string
	if err := json.Unmarshal(data, &argv); err != nil {
		return errors.New("cmd must be a string or a list of strings")
	}
	*c = Command{Argv: argv}
	return nil
}

// MarshalJSON writes the form the command was given in.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Argv != nil {
		return json.Marshal(c.Argv)
	}
	return json.Marshal(c.Shell)
}

func (c Command) empty() bool {
	return c.Shell == "" && (len(c.Argv) == 0 || c.Argv[0] == "")
}

// CommandArgs are the arguments of run_command.
type CommandArgs struct {
	Cmd     Command `json:"cmd"`
	CwdRoot string  `json:"cwd_root" validate:"omitempty,oneof=integrated workspace base"`
	Timeout float64 `json:"timeout" validate:"gte=0"`
}

func (a CommandArgs) Validate() error {
	if a.Cmd.empty() {
		return errors.New("cmd is required")
	}
	return nil
}

// PythonArgs are the arguments of run_python_file.
type PythonArgs struct {
	Path    string   `json:"path" validate:"required"`
	Root    string   `json:"root" validate:"omitempty,oneof=integrated workspace base"`
	Args    []string `json:"args"`
	Timeout float64  `json:"timeout" validate:"gte=0"`
}

// Output is the observed result of a process. A non-zero exit is reported
// here, not as an error.
type Output struct {
	OK         bool   `json:"ok"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Truncated  bool   `json:"truncated,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// Tools returns the process tools bound to roots.
func Tools(roots *tools.Roots, opts Options) []tools.Tool {
	opts = opts.withDefaults()
	timeoutParam := tools.Param{Name: "timeout", Type: "number",
		Description: fmt.Sprintf("seconds, default %d", int(opts.DefaultTimeout.Seconds()))}
	return []tools.Tool{
		tools.New(tools.Definition{
			Name:        "run_command",
			Description: "Run a command. A string runs through sh -c, a list runs directly.",
			Dangerous:   true,
			Params: []tools.Param{
				{Name: "cmd", Type: "string|[]string", Description: "command line or argv", Required: true},
				{Name: "cwd_root", Type: "string", Description: "working directory root, default integrated"},
				timeoutParam,
			},
		}, func(ctx context.Context, a CommandArgs) (any, error) {
			dir, err := roots.Dir(a.CwdRoot)
			if err != nil {
				return nil, err
			}
			argv := a.Cmd.Argv
			if argv == nil {
				argv = []string{"sh", "-c", a.Cmd.Shell}
			}
			return Run(ctx, dir, argv, timeoutOf(a.Timeout, opts), opts.MaxOutput)
		}),
		tools.New(tools.Definition{
			Name:        "run_python_file",
			Description: "Run a Python script with the root as working directory.",
			Dangerous:   true,
			Params: []tools.Param{
				{Name: "path", Type: "string", Description: "script path relative to root", Required: true},
				{Name: "root", Type: "string", Description: "allow-listed root, default integrated"},
				{Name: "args", Type: "[]string", Description: "script arguments"},
				timeoutParam,
			},
		}, func(ctx context.Context, a PythonArgs) (any, error) {
			script, err := roots.Resolve(a.Root, a.Path)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(script)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("%w: %s", tools.ErrNotFound, a.Path)
				}
				return nil, err
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%w: %s is a directory", tools.ErrInvalidArgs, a.Path)
			}
			dir, err := roots.Dir(a.Root)
			if err != nil {
				return nil, err
			}
			argv := append([]string{opts.Python, script}, a.Args...)
			return Run(ctx, dir, argv, timeoutOf(a.Timeout, opts), opts.MaxOutput)
		}),
	}
}

func timeoutOf(seconds float64, opts Options) time.Duration {
	if seconds <= 0 {
		return opts.DefaultTimeout
	}
	return min(time.Duration(seconds*float64(time.Second)), MaxTimeout)
}

// Run executes argv in dir, always reaping the child.
//
// On timeout the whole process group is killed and the partial output is
// returned together with an error wrapping tools.ErrTimeout.
func Run(ctx context.Context, dir string, argv []string, timeout time.Duration, maxOutput int) (*Output, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", tools.ErrInvalidArgs)
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	configureGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second

	stdout := &capped{limit: maxOutput}
	stderr := &capped{limit: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	out := &Output{
		ReturnCode: -1,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Truncated:  stdout.truncated || stderr.truncated,
	}
	if cmd.ProcessState != nil {
		out.ReturnCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.TimedOut = true
		return out, fmt.Errorf("%w after %s: %s", tools.ErrTimeout, timeout, argv[0])
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
	case errors.Is(err, exec.ErrWaitDelay):
		// Child exited but a descendant held the pipes open.
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return out, fmt.Errorf("%w: %s", tools.ErrNotFound, argv[0])
	default:
		return out, fmt.Errorf("run %s: %w", argv[0], err)
	}
	out.OK = out.ReturnCode == 0
	return out, nil
}

// capped keeps the first limit bytes written and drops the rest.
type capped struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capped) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}
