// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax checks source files for parse errors with tree-sitter.
//
// It backs the default external test runner: a workspace passes when every
// recognized source file parses cleanly.
//
// Thread Safety: all functions are safe for concurrent use. Each call uses
// its own parser.
package syntax

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// maxErrors bounds errors reported per file on heavily malformed input.
const maxErrors = 50

// Error is one syntax error. Line is 1-based, Column 0-based.
type Error struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (e Error) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
}

// LanguageFor returns the grammar for path's extension, or nil.
func LanguageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".py", ".pyi":
		return python.GetLanguage()
	case ".js", ".mjs", ".cjs", ".jsx":
		return javascript.GetLanguage()
	default:
		return nil
	}
}

// Check parses content as the language implied by path. Unrecognized
// extensions yield no errors.
func Check(ctx context.Context, path string, content []byte) ([]Error, error) {
	lang := LanguageFor(path)
	if lang == nil {
		return nil, nil
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	var errs []Error
	collect(tree.RootNode(), path, &errs, 0)
	return errs, nil
}

func collect(node *sitter.Node, path string, errs *[]Error, depth int) {
	if node == nil || depth > 1000 || len(*errs) >= maxErrors {
		return
	}
	if node.IsError() || node.IsMissing() {
		pt := node.StartPoint()
		msg := "syntax error"
		if node.IsMissing() {
			msg = "syntax error: missing " + node.Type()
		}
		*errs = append(*errs, Error{Path: path, Line: int(pt.Row) + 1, Column: int(pt.Column), Message: msg})
		// Children of an ERROR node rarely add information.
		if node.IsError() {
			return
		}
	}
	if !node.HasError() {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collect(node.Child(i), path, errs, depth+1)
	}
}

// CheckTree checks every recognized file under dir. Hidden directories
// and node_modules are skipped. Paths in the result are relative to dir.
func CheckTree(ctx context.Context, dir string) (checked int, errs []Error, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || LanguageFor(path) == nil {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		fileErrs, err := Check(ctx, filepath.ToSlash(rel), content)
		if err != nil {
			return err
		}
		checked++
		errs = append(errs, fileErrs...)
		return nil
	})
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return checked, errs, err
}
