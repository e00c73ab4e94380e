// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"encoding/json"
	"time"

	"github.com/AleutianAI/AleutianNova/services/builder/registry"
	"github.com/AleutianAI/AleutianNova/services/builder/snapshot"
)

// PrepareRequest is the body of POST /v1/prepare.
type PrepareRequest struct {
	// RequestID reuses an existing request. Empty generates one.
	RequestID string `json:"request_id"`

	// Note is stored on the snapshot and the prepare event.
	Note string `json:"note"`

	// Subset limits the snapshot to these relative paths. Empty snapshots
	// the whole integrated tree.
	Subset []string `json:"subset"`
}

// PrepareResponse is returned by Prepare.
type PrepareResponse struct {
	RequestID     string            `json:"request_id"`
	Created       bool              `json:"created"`
	WorkspacePath string            `json:"workspace_path"`
	Snapshot      snapshot.Snapshot `json:"snapshot"`
}

// PatchRequest is the body of POST /v1/patch.
type PatchRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	Path      string `json:"path" binding:"required"`
	Content   string `json:"content"`
}

// PatchResponse is returned by ApplyPatch.
type PatchResponse struct {
	RequestID string `json:"request_id"`
	Path      string `json:"path"`
	Target    string `json:"target"`
	Bytes     int    `json:"bytes"`
}

// RequestRef is the body of calls that only name a request.
type RequestRef struct {
	RequestID string `json:"request_id" binding:"required"`
}

// TestResponse is the outcome of a test run.
type TestResponse struct {
	RequestID string        `json:"request_id"`
	OK        bool          `json:"ok"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// BatchChange is one full-file write inside a batch.
type BatchChange struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

// BatchRequest is the body of POST /v1/batch.
type BatchRequest struct {
	// RequestID reuses an existing request. Empty generates one.
	RequestID string `json:"request_id"`

	// Instruction describes the batch. It becomes the prepare note.
	Instruction string `json:"instruction"`

	Changes []BatchChange `json:"changes" binding:"required,min=1,dive"`

	// SkipTests stops after the patches are written.
	SkipTests bool `json:"skip_tests"`
}

// BatchResponse is returned by ApplyBatch.
type BatchResponse struct {
	RequestID   string            `json:"request_id"`
	Instruction string            `json:"instruction,omitempty"`
	Snapshot    snapshot.Snapshot `json:"snapshot"`
	Patches     []PatchResponse   `json:"patches"`

	// Tests is nil when SkipTests was set.
	Tests       *TestResponse `json:"tests,omitempty"`
	TestsPassed bool          `json:"tests_passed"`
}

// PlanRequest is the body of POST /v1/plan.
type PlanRequest struct {
	// RequestID attaches the plan to an existing request. Empty registers
	// a new one.
	RequestID string `json:"request_id"`

	// Path is the target the plan integrates.
	Path string `json:"path" binding:"required"`

	// Intent defaults to "integrate code".
	Intent string `json:"intent"`

	// Steps replaces the default step list.
	Steps []string `json:"steps"`
}

// Plan is the stored change plan for a request.
type Plan struct {
	RequestID string    `json:"request_id"`
	Intent    string    `json:"intent"`
	Path      string    `json:"path"`
	Steps     []string  `json:"plan"`
	CreatedAt time.Time `json:"created"`
}

// MergeRequest is the body of POST /v1/merge.
type MergeRequest struct {
	RequestID string `json:"request_id" binding:"required"`

	// Discard removes the workspace after a successful merge.
	Discard bool `json:"discard"`
}

// MergeResponse is returned by Merge.
type MergeResponse struct {
	RequestID string `json:"request_id"`
	Files     int    `json:"files"`

	// SnapshotID is the pre-merge snapshot a rollback will restore.
	SnapshotID       string `json:"snapshot_id"`
	WorkspaceRemoved bool   `json:"workspace_removed"`
}

// RestoreRequest is the body of POST /v1/restore.
type RestoreRequest struct {
	RequestID  string `json:"request_id" binding:"required"`
	SnapshotID string `json:"snapshot_id" binding:"required"`
}

// SnapshotsResponse is returned by GET /v1/snapshots.
type SnapshotsResponse struct {
	RequestID string              `json:"request_id,omitempty"`
	Snapshots []snapshot.Snapshot `json:"snapshots"`
}

// EnvResponse is returned by GET /v1/env/:id.
type EnvResponse struct {
	RequestID string          `json:"request_id"`
	Env       json.RawMessage `json:"env"`
}

// HistoryResponse is a request's view plus its trail.
type HistoryResponse struct {
	Request registry.Request `json:"request"`
	Events  []registry.Event `json:"events"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error kind.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	IntegratedRoot string `json:"integrated_root"`
	Tools          int    `json:"tools"`
}
