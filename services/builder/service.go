// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder drives change requests through their lifecycle:
// prepare, patch, test, then merge or rollback.
//
// # Description
//
// The Service composes the workspace manager, the snapshot and restore
// engines, the request registry and the tool gateway. It owns locking:
// every mutating call holds the request's lock, and calls that write the
// integrated tree (prepare's snapshot, merge, rollback, restore) also hold
// the tree lock.
//
// # Thread Safety
//
// Service is safe for concurrent use.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianNova/services/builder/envinfo"
	"github.com/AleutianAI/AleutianNova/services/builder/lock"
	"github.com/AleutianAI/AleutianNova/services/builder/preview"
	"github.com/AleutianAI/AleutianNova/services/builder/registry"
	"github.com/AleutianAI/AleutianNova/services/builder/restore"
	"github.com/AleutianAI/AleutianNova/services/builder/snapshot"
	"github.com/AleutianAI/AleutianNova/services/builder/syntax"
	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
	"github.com/AleutianAI/AleutianNova/services/builder/tools"
	"github.com/AleutianAI/AleutianNova/services/builder/tools/proctools"
	"github.com/AleutianAI/AleutianNova/services/builder/workspace"
)

const tracerName = "nova.builder"

// DefaultTestTimeout bounds one test run.
const DefaultTestTimeout = 30 * time.Second

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// IntegratedRoot is the canonical tree that merges and restores write.
	IntegratedRoot string

	// TestCommand is the external runner. The workspace path is appended as
	// the last argument. Empty runs the built-in syntax check.
	TestCommand []string

	// TestTimeout bounds one test run. Default: 30s.
	TestTimeout time.Duration

	// MaxOutput caps captured runner output per stream. Default: 64 KiB.
	MaxOutput int

	// Default: envinfo.CaptureIn(IntegratedRoot).
	// Default: envinfo.Capture.
	CaptureEnv func(ctx context.Context) (*envinfo.Info, error)
}

// Deps are the components a Service composes.
type Deps struct {
	Registry   *registry.Registry
	Workspaces *workspace.Manager
	Snapshots  *snapshot.Engine
	Restorer   *restore.Engine
	Locks      *lock.Manager
	Gateway    *tools.Gateway
	Logger     *slog.Logger
}

// Service implements the request lifecycle.
type Service struct {
	cfg        ServiceConfig
	integrated string
	registry   *registry.Registry
	workspaces *workspace.Manager
	snapshots  *snapshot.Engine
	restorer   *restore.Engine
	locks      *lock.Manager
	gateway    *tools.Gateway
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig, deps Deps) (*Service, error) {
	if cfg.IntegratedRoot == "" {
		return nil, errors.New("builder: integrated root is required")
	}
	if deps.Registry == nil || deps.Workspaces == nil || deps.Snapshots == nil ||
		deps.Restorer == nil || deps.Gateway == nil {
		return nil, errors.New("builder: registry, workspaces, snapshots, restorer and gateway are required")
	}
	integrated, err := filepath.Abs(cfg.IntegratedRoot)
	if err != nil {
		return nil, err
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultTestTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = proctools.DefaultMaxOutput
	}
	if cfg.CaptureEnv == nil {
		cfg.CaptureEnv = envinfo.CaptureIn(integrated)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locks := deps.Locks
	if locks == nil {
		locks = lock.NewManager(nil, logger)
	}
	return &Service{
		cfg:        cfg,
		integrated: integrated,
		registry:   deps.Registry,
		workspaces: deps.Workspaces,
		snapshots:  deps.Snapshots,
		restorer:   deps.Restorer,
		locks:      locks,
		gateway:    deps.Gateway,
		logger:     logger.With("component", "builder"),
	}, nil
}

// IntegratedRoot returns the canonical tree.
func (s *Service) IntegratedRoot() string { return s.integrated }

// Prepare registers (or reuses) a request, creates its workspace,
// snapshots the integrated tree and records the environment.
//
// # Description
//
// An empty RequestID generates a fresh identifier. Preparing an existing
// request reuses its workspace and takes a new snapshot. Environment
// capture failures are logged and do not fail the call.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (_ *PrepareResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "builder.Prepare")
	defer func() { telemetry.EndSpan(span, err) }()

	id, created, err := s.registry.CreateOrReuse(ctx, req.RequestID)
	if err != nil {
		return nil, wrap("prepare", err)
	}
	span.SetAttributes(attribute.String("request_id", id))

	release, err := s.locks.Acquire(ctx, id, s.integrated)
	if err != nil {
		return nil, wrap("prepare", err)
	}
	defer release()

	wsPath, err := s.workspaces.Create(id)
	if err != nil {
		return nil, wrap("prepare", err)
	}

	note := req.Note
	if note == "" {
		note = "prepare"
	}
	snap, err := s.snapshots.Create(ctx, snapshot.CreateRequest{
		RequestID:  id,
		SourceRoot: s.integrated,
		Subset:     req.Subset,
		Note:       note,
	})
	if err != nil {
		return nil, wrap("prepare", err)
	}

	s.captureEnv(ctx, id)

	if _, err := s.registry.Record(ctx, id, registry.Event{
		Action:        registry.ActionPrepare,
		State:         registry.StatePrepared,
		WorkspacePath: wsPath,
		SnapshotID:    snap.ID,
		Detail:        req.Note,
	}); err != nil {
		return nil, wrap("prepare", err)
	}

	return &PrepareResponse{
		RequestID:     id,
		Created:       created,
		WorkspacePath: wsPath,
		Snapshot:      *snap,
	}, nil
}

func (s *Service) captureEnv(ctx context.Context, id string) {
	info, err := s.cfg.CaptureEnv(ctx)
	if err == nil {
		var doc []byte
		if doc, err = json.Marshal(info); err == nil {
			err = s.registry.PutEnv(ctx, id, doc)
		}
	}
	if err != nil {
		s.logger.Warn("environment not recorded",
			slog.String("request_id", id),
			slog.String("error", err.Error()))
	}
}

// ApplyPatch writes one file into the request's workspace.
func (s *Service) ApplyPatch(ctx context.Context, req PatchRequest) (*PatchResponse, error) {
	if req.RequestID == "" || req.Path == "" {
		return nil, invalid("apply patch", "request_id and path are required")
	}
	release, err := s.lockRequest(ctx, req.RequestID)
	if err != nil {
		return nil, wrap("apply patch", err)
	}
	defer release()

	target, err := s.workspaces.ApplyPatch(req.RequestID, req.Path, []byte(req.Content))
	if err != nil {
		return nil, wrap("apply patch", err)
	}
	if _, err := s.registry.Record(ctx, req.RequestID, registry.Event{
		Action: registry.ActionPatch,
		State:  registry.StatePatched,
		Path:   filepath.ToSlash(req.Path),
	}); err != nil {
		return nil, wrap("apply patch", err)
	}
	return &PatchResponse{
		RequestID: req.RequestID,
		Path:      filepath.ToSlash(req.Path),
		Target:    target,
		Bytes:     len(req.Content),
	}, nil
}

// RunTests runs the test runner against the request's workspace.
//
// # Description
//
// A passing run records state tested. A failing run is recorded as an
// audit event only and returned with OK false and a nil error. A runner
// that exceeds TestTimeout is killed and reported as ErrTimeout with the
// partial output in the response.
func (s *Service) RunTests(ctx context.Context, requestID string) (_ *TestResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "builder.RunTests",
		attribute.String("request_id", requestID))
	defer func() { telemetry.EndSpan(span, err) }()

	release, err := s.lockRequest(ctx, requestID)
	if err != nil {
		return nil, wrap("run tests", err)
	}
	defer release()

	ws, err := s.workspaces.Path(requestID)
	if err != nil {
		return nil, wrap("run tests", err)
	}
	if !s.workspaces.Exists(requestID) {
		return nil, wrap("run tests", fmt.Errorf("%w: %s", workspace.ErrNotFound, requestID))
	}

	start := time.Now()
	resp, runErr := s.runTests(ctx, ws)
	if resp != nil {
		resp.RequestID = requestID
		resp.Duration = time.Since(start)
	}
	if runErr != nil {
		return resp, wrap("run tests", runErr)
	}

	ev := registry.Event{Action: registry.ActionTest, Detail: "passed"}
	if resp.OK {
		ev.State = registry.StateTested
	} else {
		ev.Detail = fmt.Sprintf("failed with exit code %d", resp.ExitCode)
	}
	if _, err := s.registry.Record(ctx, requestID, ev); err != nil {
		return resp, wrap("run tests", err)
	}
	s.logger.Info("tests finished",
		slog.String("request_id", requestID),
		slog.Bool("ok", resp.OK),
		slog.Int("exit_code", resp.ExitCode))
	return resp, nil
}

func (s *Service) runTests(ctx context.Context, ws string) (*TestResponse, error) {
	if len(s.cfg.TestCommand) == 0 {
		return s.builtinTests(ctx, ws)
	}
	argv := append(append([]string(nil), s.cfg.TestCommand...), ws)
	out, err := proctools.Run(ctx, ws, argv, s.cfg.TestTimeout, s.cfg.MaxOutput)
	if errors.Is(err, tools.ErrNotFound) {
		// A missing runner is a configuration fault, not a missing request.
		return nil, fmt.Errorf("%w: test runner %s: %v", ErrExecutionFailure, argv[0], err)
	}
	if out == nil {
		return nil, err
	}
	return &TestResponse{
		OK:       out.OK,
		ExitCode: out.ReturnCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		TimedOut: out.TimedOut,
	}, err
}

// builtinTests parses every recognized source file in the workspace.
func (s *Service) builtinTests(ctx context.Context, ws string) (*TestResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TestTimeout)
	defer cancel()

	checked, errs, err := syntax.CheckTree(ctx, ws)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TestResponse{ExitCode: -1, TimedOut: true}, fmt.Errorf("%w: syntax check", tools.ErrTimeout)
		}
		return nil, err
	}
	var b strings.Builder
	for _, e := range errs {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "checked %d files, %d syntax errors\n", checked, len(errs))
	resp := &TestResponse{OK: len(errs) == 0, Stdout: b.String()}
	if !resp.OK {
		resp.ExitCode = 1
	}
	return resp, nil
}

// Merge snapshots the integrated files the workspace will overwrite, then
// copies the workspace over the integrated tree.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (_ *MergeResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "builder.Merge",
		attribute.String("request_id", req.RequestID))
	defer func() { telemetry.EndSpan(span, err) }()

	release, err := s.lockRequest(ctx, req.RequestID, s.integrated)
	if err != nil {
		return nil, wrap("merge", err)
	}
	defer release()

	files, err := s.workspaces.Files(req.RequestID)
	if err != nil {
		return nil, wrap("merge", err)
	}
	snap, err := s.snapshots.Create(ctx, snapshot.CreateRequest{
		RequestID:  req.RequestID,
		SourceRoot: s.integrated,
		Subset:     files,
		Note:       "pre-merge",
	})
	if err != nil {
		return nil, wrap("merge", err)
	}

	n, err := s.workspaces.Merge(req.RequestID, s.integrated)
	if err != nil {
		return nil, wrap("merge", err)
	}

	resp := &MergeResponse{RequestID: req.RequestID, Files: n, SnapshotID: snap.ID}
	if req.Discard {
		if resp.WorkspaceRemoved, err = s.workspaces.Discard(req.RequestID); err != nil {
			return nil, wrap("merge", err)
		}
	}
	if _, err := s.registry.Record(ctx, req.RequestID, registry.Event{
		Action:     registry.ActionMerge,
		State:      registry.StateMerged,
		SnapshotID: snap.ID,
		Detail:     fmt.Sprintf("%d files", n),
	}); err != nil {
		return nil, wrap("merge", err)
	}
	return resp, nil
}

// Rollback restores the request's newest snapshot over the integrated
// tree and discards the workspace.
//
// # Outputs
//
//   - restore.StatusRestored: snapshot restored, workspace discarded.
//   - restore.StatusNoSnapshot: nothing to restore; the workspace was
//     discarded and the integrated tree was not touched. Not an error.
//   - error: the restore failed (ErrIntegrity, ErrNotFound, ...). The
//     workspace is kept.
func (s *Service) Rollback(ctx context.Context, requestID string) (_ *restore.Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "builder.Rollback",
		attribute.String("request_id", requestID))
	defer func() { telemetry.EndSpan(span, err) }()

	release, err := s.lockRequest(ctx, requestID, s.integrated)
	if err != nil {
		return nil, wrap("rollback", err)
	}
	defer release()

	res, err := s.restorer.Rollback(ctx, requestID, s.integrated)
	if err != nil {
		return nil, wrap("rollback", err)
	}
	if _, err := s.registry.Record(ctx, requestID, registry.Event{
		Action:     registry.ActionRollback,
		State:      registry.StateRolledBack,
		SnapshotID: res.SnapshotID,
		Detail:     string(res.Status),
	}); err != nil {
		return res, wrap("rollback", err)
	}
	return res, nil
}

// ListSnapshots lists snapshots newest first. An empty requestID lists
// every request.
func (s *Service) ListSnapshots(_ context.Context, requestID string) ([]snapshot.Snapshot, error) {
	snaps, err := s.snapshots.List(requestID)
	if err != nil {
		return nil, wrap("list snapshots", err)
	}
	if snaps == nil {
		snaps = []snapshot.Snapshot{}
	}
	return snaps, nil
}

// RestoreSpecific restores one chosen snapshot over the integrated tree.
// The request's state is unchanged; a restore event is recorded for audit.
func (s *Service) RestoreSpecific(ctx context.Context, requestID, snapshotID string) (_ *restore.Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "builder.RestoreSpecific",
		attribute.String("request_id", requestID),
		attribute.String("snapshot_id", snapshotID))
	defer func() { telemetry.EndSpan(span, err) }()

	if snapshotID == "" {
		return nil, invalid("restore", "snapshot_id is required")
	}
	release, err := s.lockRequest(ctx, requestID, s.integrated)
	if err != nil {
		return nil, wrap("restore", err)
	}
	defer release()

	snap, err := s.snapshots.Get(requestID, snapshotID)
	if err != nil {
		return nil, wrap("restore", err)
	}
	res, err := s.restorer.Restore(ctx, snap, s.integrated)
	if err != nil {
		return nil, wrap("restore", err)
	}
	if _, err := s.registry.Record(ctx, requestID, registry.Event{
		Action:     registry.ActionRestore,
		SnapshotID: snap.ID,
		Detail:     fmt.Sprintf("%d files", res.Files),
	}); err != nil {
		return res, wrap("restore", err)
	}
	return res, nil
}

// Env returns the environment captured at the request's last prepare.
func (s *Service) Env(ctx context.Context, requestID string) (json.RawMessage, error) {
	doc, err := s.registry.Env(ctx, requestID)
	return doc, wrap("env", err)
}

// Preview diffs the workspace against the integrated tree.
func (s *Service) Preview(ctx context.Context, requestID string) (*preview.Result, error) {
	if err := s.requireRequest(ctx, requestID); err != nil {
		return nil, wrap("preview", err)
	}
	if !s.workspaces.Exists(requestID) {
		return nil, wrap("preview", fmt.Errorf("%w: %s", workspace.ErrNotFound, requestID))
	}
	ws, err := s.workspaces.Path(requestID)
	if err != nil {
		return nil, wrap("preview", err)
	}
	res, err := preview.Compute(ws, s.integrated)
	return res, wrap("preview", err)
}

// History returns the request's current view and its full event trail.
func (s *Service) History(ctx context.Context, requestID string) (*HistoryResponse, error) {
	req, err := s.registry.Get(ctx, requestID)
	if err != nil {
		return nil, wrap("history", err)
	}
	events, err := s.registry.Events(ctx, requestID)
	if err != nil {
		return nil, wrap("history", err)
	}
	return &HistoryResponse{Request: *req, Events: events}, nil
}

// Tools returns the tool catalog.
func (s *Service) Tools() []tools.Definition {
	return s.gateway.List()
}

// RunTool dispatches one tool invocation. It never returns an error; see
// tools.Gateway.Dispatch.
//
// A confirmed dangerous tool aimed at the integrated root holds the tree
// lock while it runs, so it cannot interleave with a merge or restore.
func (s *Service) RunTool(ctx context.Context, inv tools.Invocation) *tools.Result {
	if inv.Confirm && s.writesIntegrated(inv) {
		release, err := s.locks.Acquire(ctx, "", s.integrated)
		if err != nil {
			code := tools.CodeExecutionFailure
			if ctx.Err() != nil {
				code = tools.CodeTimeout
			}
			s.logger.Warn("tool not run, tree busy",
				slog.String("tool", inv.Tool),
				slog.String("error", err.Error()))
			return &tools.Result{
				Tool:   inv.Tool,
				Status: tools.StatusFailed,
				Error:  &tools.Failure{Code: code, Message: "integrated tree is locked: " + err.Error()},
			}
		}
		defer release()
	}
	return s.gateway.Dispatch(ctx, inv)
}

// writesIntegrated reports whether inv names a dangerous tool whose root
// selector is, or defaults to, the integrated tree. Undecodable arguments
// count as integrated; the gateway rejects them after the lock is held.
func (s *Service) writesIntegrated(inv tools.Invocation) bool {
	def, ok := s.gateway.Lookup(inv.Tool)
	if !ok || !def.Dangerous {
		return false
	}
	var sel struct {
		Root    string `json:"root"`
		CwdRoot string `json:"cwd_root"`
	}
	if len(inv.Args) > 0 {
		if err := json.Unmarshal(inv.Args, &sel); err != nil {
			return true
		}
	}
	root := sel.Root
	if root == "" {
		root = sel.CwdRoot
	}
	return root == "" || root == tools.RootIntegrated
}

// lockRequest takes the request lock (plus any tree locks) after checking
// the request is registered.
func (s *Service) lockRequest(ctx context.Context, requestID string, trees ...string) (func(), error) {
	if err := s.requireRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.locks.Acquire(ctx, requestID, trees...)
}

func (s *Service) requireRequest(ctx context.Context, requestID string) error {
	if err := registry.ValidateID(requestID); err != nil {
		return err
	}
	ok, err := s.registry.Exists(ctx, requestID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request %s", registry.ErrNotFound, requestID)
	}
	return nil
}
