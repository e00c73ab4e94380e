// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command nova-syntax parses every Go, Python and JavaScript file under a
// directory and reports syntax errors. It exits 1 when any file fails and
// is the default external test runner for nova workspaces.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNova/services/builder/syntax"
)

// exitError carries a process exit code without printing anything more.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func newRootCmd() *cobra.Command {
	var quiet, noColor bool
	cmd := &cobra.Command{
		Use:           "nova-syntax <dir>",
		Short:         "Report syntax errors in Go, Python and JavaScript sources",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", args[0])
			}
			checked, errs, err := syntax.CheckTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			where := color.New(color.Bold).SprintfFunc()
			for _, e := range errs {
				fmt.Fprintf(out, "%s %s\n", where("%s:%d:%d:", e.Path, e.Line, e.Column), color.RedString(e.Message))
			}
			if !quiet {
				summary := color.GreenString
				if len(errs) > 0 {
					summary = color.RedString
				}
				fmt.Fprintln(out, summary("checked %d files, %d syntax errors", checked, len(errs)))
			}
			if len(errs) > 0 {
				return exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print errors only")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if e, ok := err.(exitError); ok {
			os.Exit(e.code)
		}
		fmt.Fprintln(os.Stderr, "nova-syntax:", err)
		os.Exit(2)
	}
}
