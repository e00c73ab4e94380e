// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNova/pkg/ux"
	"github.com/AleutianAI/AleutianNova/services/builder"
)

func newBatchCmd(a *app) *cobra.Command {
	var req builder.BatchRequest
	cmd := &cobra.Command{
		Use:   "batch <path>=<file|-> ...",
		Short: "Prepare a request, write several files and run the tests",
		Long: "Each argument writes the contents of <file> to <path> inside a freshly prepared " +
			"workspace. At most one source may be \"-\" (stdin). The tests run afterwards " +
			"unless --skip-tests is given; the integrated tree is not touched.",
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := a.batchChanges(cmd, args)
			if err != nil {
				return err
			}
			req.Changes = changes
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				resp, err := svc.ApplyBatch(cmd.Context(), req)
				if resp == nil {
					return err
				}
				if emitErr := a.emit(resp, func(p *ux.Printer) { printBatch(p, resp) }); emitErr != nil {
					return emitErr
				}
				if err != nil {
					return err
				}
				if resp.Tests != nil && !resp.TestsPassed {
					return NewCommandError(cmd.CommandPath(), ExitFailure, "", errTestsFailed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RequestID, "id", "", "request id to create or reuse (generated when empty)")
	cmd.Flags().StringVar(&req.Instruction, "instruction", "", "what the batch does; stored as the snapshot note")
	cmd.Flags().BoolVar(&req.SkipTests, "skip-tests", false, "write the files without running the tests")
	return cmd
}

func (a *app) batchChanges(cmd *cobra.Command, args []string) ([]builder.BatchChange, error) {
	changes := make([]builder.BatchChange, 0, len(args))
	stdin := false
	for _, arg := range args {
		path, source, ok := strings.Cut(arg, "=")
		if !ok || path == "" || source == "" {
			return nil, usageError(cmd.CommandPath(), fmt.Errorf("expected <path>=<file|->, got %q", arg))
		}
		if source == "-" {
			if stdin {
				return nil, usageError(cmd.CommandPath(), errors.New("stdin can feed only one change"))
			}
			stdin = true
		}
		content, err := a.readSource(source)
		if err != nil {
			return nil, err
		}
		changes = append(changes, builder.BatchChange{Path: path, Content: content})
	}
	return changes, nil
}

func printBatch(p *ux.Printer, resp *builder.BatchResponse) {
	p.Success("request %s: wrote %d files", resp.RequestID, len(resp.Patches))
	p.Field("snapshot", resp.Snapshot.ID)
	for _, patch := range resp.Patches {
		p.Item(ux.IconArrow, patch.Path, fmt.Sprintf("%d bytes", patch.Bytes))
	}
	if resp.Tests != nil {
		printTestResult(p, resp.Tests)
	}
}

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Record or show a request's change plan",
	}
	cmd.AddCommand(newPlanCreateCmd(a), newPlanShowCmd(a))
	return cmd
}

func newPlanCreateCmd(a *app) *cobra.Command {
	var req builder.PlanRequest
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Store a change plan for <path>, registering a request when --id is empty",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Path = args[0]
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				plan, err := svc.Plan(cmd.Context(), req)
				if err != nil {
					return err
				}
				return a.emit(plan, func(p *ux.Printer) { printPlan(p, plan) })
			})
		},
	}
	cmd.Flags().StringVar(&req.RequestID, "id", "", "request to attach the plan to")
	cmd.Flags().StringVar(&req.Intent, "intent", "", "intent tag (default \""+builder.DefaultIntent+"\")")
	cmd.Flags().StringArrayVar(&req.Steps, "step", nil, "plan step, repeatable; replaces the default steps")
	return cmd
}

func newPlanShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show the stored plan",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				plan, err := svc.GetPlan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.emit(plan, func(p *ux.Printer) { printPlan(p, plan) })
			})
		},
	}
}

func printPlan(p *ux.Printer, plan *builder.Plan) {
	p.Title("Plan " + plan.RequestID)
	p.Field("intent", plan.Intent)
	p.Field("path", plan.Path)
	for i, step := range plan.Steps {
		p.Item(ux.IconPending, fmt.Sprintf("%d %s", i+1, step), "")
	}
}
