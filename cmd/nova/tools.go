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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNova/pkg/ux"
	"github.com/AleutianAI/AleutianNova/services/builder"
	"github.com/AleutianAI/AleutianNova/services/builder/tools"
)

var errDeclined = errors.New("confirmation declined")

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and run gateway tools",
	}
	cmd.AddCommand(newToolsListCmd(a), newToolsRunCmd(a))
	return cmd
}

func newToolsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				defs := svc.Tools()
				return a.emit(defs, func(p *ux.Printer) {
					p.Title("Tools")
					for _, d := range defs {
						icon := ux.IconSuccess
						detail := d.Description
						if d.Dangerous {
							icon = ux.IconWarning
							detail = "requires confirmation, " + detail
						}
						p.Item(icon, d.Name, detail)
					}
				})
			})
		},
	}
}

func newToolsRunCmd(a *app) *cobra.Command {
	var (
		rawArgs string
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "run <tool>",
		Short: "Run one tool through the gateway",
		Long: "Runs a tool with JSON arguments. Dangerous tools need --yes, or an answer " +
			"to the prompt shown when stdin is a terminal.",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rawArgs != "" && !json.Valid([]byte(rawArgs)) {
				return usageError(cmd.CommandPath(), fmt.Errorf("--args is not valid JSON"))
			}
			inv := tools.Invocation{Tool: args[0], Confirm: yes}
			if rawArgs != "" {
				inv.Args = json.RawMessage(rawArgs)
			}

			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				res := svc.RunTool(cmd.Context(), inv)
				if res.Status == tools.StatusConfirmationRequired && a.interactive() {
					ok, err := a.confirm(fmt.Sprintf("Run %s?", res.Tool), confirmDescription(res))
					if err != nil {
						return err
					}
					if !ok {
						return NewCommandError(cmd.CommandPath(), ExitConfirmation, "", errDeclined)
					}
					inv.Confirm = true
					res = svc.RunTool(cmd.Context(), inv)
				}
				if err := a.emit(res, func(p *ux.Printer) { printToolResult(p, res) }); err != nil {
					return err
				}
				return toolExit(cmd.CommandPath(), res)
			})
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "tool arguments as a JSON object")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm a dangerous tool without prompting")
	return cmd
}

func confirmDescription(res *tools.Result) string {
	if len(res.Args) == 0 {
		return res.Message
	}
	return res.Message + "\n" + string(res.Args)
}

func printToolResult(p *ux.Printer, res *tools.Result) {
	switch res.Status {
	case tools.StatusOK:
		p.Success("%s ok", res.Tool)
	case tools.StatusConfirmationRequired:
		p.WarningBox(res.Tool+" requires confirmation", confirmDescription(res)+"\nre-run with --yes to proceed")
		return
	default:
		p.Error("%s failed: %s: %s", res.Tool, res.Error.Code, res.Error.Message)
	}
	if res.Output != nil {
		_ = p.JSON(res.Output)
	}
}

// toolExit maps a tool result to the command's error.
func toolExit(cmdPath string, res *tools.Result) error {
	switch res.Status {
	case tools.StatusOK:
		return nil
	case tools.StatusConfirmationRequired:
		return NewCommandError(cmdPath, ExitConfirmation, "", builder.ErrConfirmationRequired)
	}
	code := ExitFailure
	switch res.Error.Code {
	case tools.CodeInvalidArgs, tools.CodeUnknownTool:
		code = ExitUsage
	case tools.CodeNotFound:
		code = ExitNotFound
	case tools.CodeTimeout:
		code = ExitTimeout
	case tools.CodePathEscape:
		code = ExitPathEscape
	}
	return NewCommandError(cmdPath, code, "", fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message))
}
