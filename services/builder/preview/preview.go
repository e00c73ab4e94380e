// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preview renders what a merge would change, as a unified diff.
//
// Computing a preview never mutates either tree.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sourcegraph/go-diff/diff"
)

// ContextLines is the number of unchanged lines around each hunk.
const ContextLines = 3

// FileStatus classifies one workspace file against the destination.
type FileStatus string

const (
	StatusAdded     FileStatus = "added"
	StatusModified  FileStatus = "modified"
	StatusUnchanged FileStatus = "unchanged"
)

// FileChange summarizes one file.
type FileChange struct {
	Path    string     `json:"path"`
	Status  FileStatus `json:"status"`
	Binary  bool       `json:"binary,omitempty"`
	Added   int        `json:"lines_added"`
	Deleted int        `json:"lines_deleted"`
}

// Result is a merge preview.
type Result struct {
	Files []FileChange `json:"files"`
	Diff  string       `json:"diff"`
}

// Changed reports whether the merge would modify the destination.
func (r *Result) Changed() bool {
	for _, f := range r.Files {
		if f.Status != StatusUnchanged {
			return true
		}
	}
	return false
}

// Compute diffs every regular file under workspace against its counterpart
// under destination. Files only present in the destination are not shown,
// since merge never deletes.
func Compute(workspace, destination string) (*Result, error) {
	var rels []string
	err := filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	sort.Strings(rels)

	res := &Result{Files: make([]FileChange, 0, len(rels))}
	var fileDiffs []*diff.FileDiff
	for _, rel := range rels {
		change, fd, err := compareFile(workspace, destination, rel)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, change)
		if fd != nil {
			fileDiffs = append(fileDiffs, fd)
		}
	}

	if len(fileDiffs) > 0 {
		out, err := diff.PrintMultiFileDiff(fileDiffs)
		if err != nil {
			return nil, fmt.Errorf("render diff: %w", err)
		}
		res.Diff = string(out)
	}
	return res, nil
}

func compareFile(workspace, destination, rel string) (FileChange, *diff.FileDiff, error) {
	change := FileChange{Path: rel}
	after, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(rel)))
	if err != nil {
		return change, nil, err
	}
	before, err := os.ReadFile(filepath.Join(destination, filepath.FromSlash(rel)))
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return change, nil, err
	}

	switch {
	case !existed:
		change.Status = StatusAdded
	case bytes.Equal(before, after):
		change.Status = StatusUnchanged
		return change, nil, nil
	default:
		change.Status = StatusModified
	}

	fd := &diff.FileDiff{OrigName: "a/" + rel, NewName: "b/" + rel}
	if !existed {
		fd.OrigName = "/dev/null"
	}
	if isBinary(before) || isBinary(after) {
		change.Binary = true
		fd.Extended = []string{fmt.Sprintf("Binary files %s and %s differ", fd.OrigName, fd.NewName)}
		return change, fd, nil
	}

	ops := lineOps(string(before), string(after))
	for _, op := range ops {
		switch op.kind {
		case '+':
			change.Added++
		case '-':
			change.Deleted++
		}
	}
	fd.Hunks = buildHunks(ops, ContextLines)
	return change, fd, nil
}

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
}

// lineOps computes a line-level edit script.
func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		kind := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

// buildHunks groups changed lines with up to context lines on each side.
func buildHunks(ops []lineOp, context int) []*diff.Hunk {
	n := len(ops)
	origBefore := make([]int, n+1)
	newBefore := make([]int, n+1)
	for i, op := range ops {
		origBefore[i+1], newBefore[i+1] = origBefore[i], newBefore[i]
		if op.kind != '+' {
			origBefore[i+1]++
		}
		if op.kind != '-' {
			newBefore[i+1]++
		}
	}

	var hunks []*diff.Hunk
	for i := 0; i < n; {
		for i < n && ops[i].kind == ' ' {
			i++
		}
		if i == n {
			break
		}
		start := max(i-context, 0)
		end := i
		for end < n {
			if ops[end].kind != ' ' {
				end++
				continue
			}
			j := end
			for j < n && ops[j].kind == ' ' {
				j++
			}
			if j == n || j-end > 2*context {
				end = min(end+context, n)
				break
			}
			end = j
		}
		hunks = append(hunks, makeHunk(ops[start:end], origBefore[start], newBefore[start]))
		i = end
	}
	return hunks
}

func makeHunk(ops []lineOp, origOffset, newOffset int) *diff.Hunk {
	h := &diff.Hunk{}
	var body bytes.Buffer
	for _, op := range ops {
		if op.kind != '+' {
			h.OrigLines++
		}
		if op.kind != '-' {
			h.NewLines++
		}
		body.WriteByte(op.kind)
		body.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") {
			body.WriteString("\n\\ No newline at end of file\n")
		}
	}
	h.OrigStartLine = int32(origOffset)
	if h.OrigLines > 0 {
		h.OrigStartLine++
	}
	h.NewStartLine = int32(newOffset)
	if h.NewLines > 0 {
		h.NewStartLine++
	}
	h.Body = body.Bytes()
	return h
}

func isBinary(b []byte) bool {
	return bytes.IndexByte(b[:min(len(b), 8000)], 0) >= 0
}
