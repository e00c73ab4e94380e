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
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNova/pkg/ux"
	"github.com/AleutianAI/AleutianNova/services/builder"
	"github.com/AleutianAI/AleutianNova/services/builder/preview"
	"github.com/AleutianAI/AleutianNova/services/builder/restore"
)

var (
	errTestsFailed = errors.New("tests failed")
	errNoSnapshot  = errors.New("no snapshot available")
)

func newPrepareCmd(a *app) *cobra.Command {
	var req builder.PrepareRequest
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Create or reuse a request, its workspace and a snapshot",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				resp, err := svc.Prepare(cmd.Context(), req)
				if err != nil {
					return err
				}
				return a.emit(resp, func(p *ux.Printer) {
					if resp.Created {
						p.Success("prepared request %s", resp.RequestID)
					} else {
						p.Success("reused request %s", resp.RequestID)
					}
					p.Field("workspace", resp.WorkspacePath)
					p.Field("snapshot", resp.Snapshot.ID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.RequestID, "id", "", "request id to create or reuse (generated when empty)")
	cmd.Flags().StringVar(&req.Note, "note", "", "note stored with the snapshot")
	cmd.Flags().StringSliceVar(&req.Subset, "subset", nil, "relative paths to snapshot instead of the whole tree")
	return cmd
}

func newPatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "patch <request-id> <path> <file|->",
		Short: "Write a file into the request's workspace",
		Long:  "Writes the contents of <file>, or stdin when it is \"-\", to <path> inside the workspace.",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := a.readSource(args[2])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				resp, err := svc.ApplyPatch(cmd.Context(), builder.PatchRequest{
					RequestID: args[0],
					Path:      args[1],
					Content:   content,
				})
				if err != nil {
					return err
				}
				return a.emit(resp, func(p *ux.Printer) {
					p.Success("wrote %s (%d bytes)", resp.Path, resp.Bytes)
				})
			})
		},
	}
}

func (a *app) readSource(name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(a.in)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("read patch content: %w", err)
	}
	return string(data), nil
}

func newTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test <request-id>",
		Short: "Run the test runner against the request's workspace",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				resp, err := svc.RunTests(cmd.Context(), args[0])
				if resp == nil {
					return err
				}
				if emitErr := a.emit(resp, func(p *ux.Printer) { printTestResult(p, resp) }); emitErr != nil {
					return emitErr
				}
				if err != nil {
					return err
				}
				if !resp.OK {
					return NewCommandError(cmd.CommandPath(), ExitFailure, "", errTestsFailed)
				}
				return nil
			})
		},
	}
}

func printTestResult(p *ux.Printer, resp *builder.TestResponse) {
	switch {
	case resp.TimedOut:
		p.Warning("tests timed out after %s", resp.Duration.Round(time.Millisecond))
	case resp.OK:
		p.Success("tests passed in %s", resp.Duration.Round(time.Millisecond))
	default:
		p.Error("tests failed with exit code %d", resp.ExitCode)
	}
	if resp.Stdout != "" {
		p.Box("stdout", resp.Stdout)
	}
	if resp.Stderr != "" {
		p.Box("stderr", resp.Stderr)
	}
}

func newMergeCmd(a *app) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "merge <request-id>",
		Short: "Copy the workspace into the integrated tree",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				resp, err := svc.Merge(cmd.Context(), builder.MergeRequest{
					RequestID: args[0],
					Discard:   discard,
				})
				if err != nil {
					return err
				}
				return a.emit(resp, func(p *ux.Printer) {
					p.Success("merged %d files from %s", resp.Files, resp.RequestID)
					p.Field("pre-merge snapshot", resp.SnapshotID)
					if resp.WorkspaceRemoved {
						p.Field("workspace", "removed")
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "remove the workspace after merging")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <request-id>",
		Short: "Restore the request's most recent snapshot over the integrated tree",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				res, err := svc.Rollback(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.emitRestore(cmd, res)
			})
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <request-id> <snapshot-id>",
		Short: "Restore a specific snapshot over the integrated tree",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				res, err := svc.RestoreSpecific(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.emitRestore(cmd, res)
			})
		},
	}
}

// emitRestore prints a restore result. No snapshot available exits with
// ExitNotFound so scripts can tell it apart from success.
func (a *app) emitRestore(cmd *cobra.Command, res *restore.Result) error {
	err := a.emit(res, func(p *ux.Printer) {
		if res.Status == restore.StatusNoSnapshot {
			p.Warning("no snapshot available for %s", res.RequestID)
			return
		}
		p.Success("restored snapshot %s (%d files)", res.SnapshotID, res.Files)
		p.Field("destination", res.Destination)
	})
	if err != nil {
		return err
	}
	if res.Status == restore.StatusNoSnapshot {
		return NewCommandError(cmd.CommandPath(), ExitNotFound, "", errNoSnapshot)
	}
	return nil
}

func newSnapshotsCmd(a *app) *cobra.Command {
	var requestID string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List snapshots, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				snaps, err := svc.ListSnapshots(cmd.Context(), requestID)
				if err != nil {
					return err
				}
				resp := builder.SnapshotsResponse{RequestID: requestID, Snapshots: snaps}
				return a.emit(resp, func(p *ux.Printer) {
					p.Title("Snapshots")
					if len(snaps) == 0 {
						p.Item(ux.IconPending, "none", "")
						return
					}
					for _, s := range snaps {
						detail := s.CreatedAt.Format(time.RFC3339)
						if s.Note != "" {
							detail += ", " + s.Note
						}
						p.Item(ux.IconArrow, s.RequestID+"/"+s.ID, detail)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "id", "", "only list this request's snapshots")
	return cmd
}

func newEnvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "env <request-id>",
		Short: "Show the environment captured at prepare time",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				env, err := svc.Env(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printer.JSON(builder.EnvResponse{RequestID: args[0], Env: env})
			})
		},
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	var unified bool
	cmd := &cobra.Command{
		Use:   "preview <request-id>",
		Short: "Show what merging the workspace would change",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				res, err := svc.Preview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if unified && !a.jsonOut {
					a.printer.Raw(res.Diff)
					return nil
				}
				return a.emit(res, func(p *ux.Printer) { printPreview(p, res) })
			})
		},
	}
	cmd.Flags().BoolVar(&unified, "diff", false, "print the unified diff")
	return cmd
}

func printPreview(p *ux.Printer, res *preview.Result) {
	p.Title("Merge preview")
	if !res.Changed() {
		p.Item(ux.IconSuccess, "no changes", "")
		return
	}
	for _, f := range res.Files {
		if f.Status == preview.StatusUnchanged {
			continue
		}
		detail := fmt.Sprintf("%s, +%d -%d", f.Status, f.Added, f.Deleted)
		if f.Binary {
			detail = string(f.Status) + ", binary"
		}
		p.Item(ux.IconArrow, f.Path, detail)
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <request-id>",
		Short: "Show a request's state and event trail",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *builder.Service) error {
				h, err := svc.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.emit(h, func(p *ux.Printer) {
					p.Title("Request " + h.Request.ID)
					p.Field("state", h.Request.State)
					if h.Request.WorkspacePath != "" {
						p.Field("workspace", h.Request.WorkspacePath)
					}
					p.Field("snapshots", len(h.Request.SnapshotIDs))
					for _, ev := range h.Events {
						detail := ev.At.Format(time.RFC3339)
						if ev.State != "" {
							detail += ", " + string(ev.State)
						}
						p.Item(ux.IconArrow, fmt.Sprintf("%d %s", ev.Seq, ev.Action), detail)
					}
				})
			})
		},
	}
}
