// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envinfo captures the host environment a request was prepared in.
package envinfo

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckTimeout bounds each external command.
const CheckTimeout = 5 * time.Second

// MaxListLines caps how many lines a list check records.
const MaxListLines = 2000

// Info describes the host. Version fields are empty when the tool is
// missing; Packages omits any inventory whose command failed.
type Info struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname"`
	NumCPU    int    `json:"num_cpu"`
	Python    string `json:"python,omitempty"`
	Git       string `json:"git,omitempty"`
	Node      string `json:"node,omitempty"`
	Npm       string `json:"npm,omitempty"`

	// Packages maps an ecosystem ("pip", "go", "npm") to its installed
	// packages, one entry per line as the package manager prints them.
	Packages map[string][]string `json:"packages,omitempty"`

	CapturedAt time.Time `json:"captured_at"`
}

// Check is an external command whose output is recorded under Name.
// A plain check keeps the first output line; a List check keeps every
// non-empty line.
type Check struct {
	Name string
	Argv []string
	List bool
}

// DefaultChecks are run by Capture.
var DefaultChecks = []Check{
	{Name: "python", Argv: []string{"python3", "--version"}},
	{Name: "git", Argv: []string{"git", "--version"}},
	{Name: "node", Argv: []string{"node", "--version"}},
	{Name: "npm", Argv: []string{"npm", "--version"}},
	{Name: "pip", Argv: []string{"python3", "-m", "pip", "freeze", "--disable-pip-version-check"}, List: true},
	{Name: "go", Argv: []string{"go", "list", "-m", "all"}, List: true},
	{Name: "npm", Argv: []string{"npm", "ls", "--depth=0", "--parseable", "--long"}, List: true},
}

// Capture collects static runtime facts and runs DefaultChecks in the
// process working directory.
func Capture(ctx context.Context) (*Info, error) {
	return CaptureWith(ctx, "", DefaultChecks)
}

// CaptureIn is Capture with the checks run from dir, so project-scoped
// inventories such as Go modules describe that tree.
func CaptureIn(dir string) func(ctx context.Context) (*Info, error) {
	return func(ctx context.Context) (*Info, error) {
		return CaptureWith(ctx, dir, DefaultChecks)
	}
}

// CaptureWith runs checks concurrently from dir. Check failures are not
// errors; only a cancelled ctx is.
func CaptureWith(ctx context.Context, dir string, checks []Check) (*Info, error) {
	host, _ := os.Hostname()
	info := &Info{
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Hostname:   host,
		NumCPU:     runtime.NumCPU(),
		CapturedAt: time.Now().UTC(),
	}

	results := make([][]string, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			lines, ok := run(gctx, dir, c.Argv)
			if ok {
				results[i] = lines
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, c := range checks {
		lines := results[i]
		if c.List {
			if lines == nil {
				continue
			}
			if info.Packages == nil {
				info.Packages = make(map[string][]string)
			}
			info.Packages[c.Name] = lines
			continue
		}
		var first string
		if len(lines) > 0 {
			first = lines[0]
		}
		switch c.Name {
		case "python":
			info.Python = first
		case "git":
			info.Git = first
		case "node":
			info.Node = first
		case "npm":
			info.Npm = first
		}
	}
	return info, nil
}

// run executes argv and returns its non-empty output lines. ok is false
// when the command is missing, fails, or times out.
func run(ctx context.Context, dir string, argv []string) (lines []string, ok bool) {
	if len(argv) == 0 {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, false
	}
	lines = []string{}
	for _, line := range strings.Split(out.String(), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		if len(lines) == MaxListLines {
			break
		}
		lines = append(lines, line)
	}
	return lines, true
}
