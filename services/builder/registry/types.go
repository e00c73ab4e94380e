// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import "time"

// State is a request's lifecycle state.
type State string

const (
	StatePrepared   State = "prepared"
	StatePatched    State = "patched"
	StateTested     State = "tested"
	StateMerged     State = "merged"
	StateRolledBack State = "rolled_back"
)

// Action names the operation that produced an event.
type Action string

const (
	ActionPrepare  Action = "prepare"
	ActionPatch    Action = "patch"
	ActionTest     Action = "test"
	ActionMerge    Action = "merge"
	ActionRollback Action = "rollback"

	// ActionRestore is an explicit restore of a chosen snapshot. It is
	// audited but leaves State unchanged.
	ActionRestore Action = "restore"

	// ActionPlan records that a plan was stored. Audit only.
	ActionPlan Action = "plan"
)

// Event is one immutable lifecycle record.
type Event struct {
	// Seq is the 1-based position in the request's trail.
	Seq uint64 `json:"seq"`

	RequestID string `json:"request_id"`
	Action    Action `json:"action"`

	// State is the lifecycle state after this event. Empty for audit-only
	// events such as ActionRestore.
	State State `json:"state,omitempty"`

	WorkspacePath string `json:"workspace_path,omitempty"`

	// SnapshotID is the snapshot created by, or restored by, this event.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// Path is the relative path touched by a patch event.
	Path string `json:"path,omitempty"`

	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Request is the folded view of a request's trail.
type Request struct {
	ID            string    `json:"request_id"`
	State         State     `json:"state"`
	WorkspacePath string    `json:"workspace_path,omitempty"`
	SnapshotIDs   []string  `json:"snapshot_ids"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Events        int       `json:"events"`
}

// apply folds one event into the view. Only snapshots created for the
// request are collected; restore events reference existing snapshots.
func (r *Request) apply(ev Event) {
	r.Events++
	r.UpdatedAt = ev.At
	if ev.State != "" {
		r.State = ev.State
	}
	if ev.WorkspacePath != "" {
		r.WorkspacePath = ev.WorkspacePath
	}
	if ev.SnapshotID != "" && ev.Action != ActionRestore && ev.Action != ActionRollback {
		r.SnapshotIDs = append(r.SnapshotIDs, ev.SnapshotID)
	}
}

// LatestSnapshot returns the most recently created snapshot for the request.
func (r *Request) LatestSnapshot() (string, bool) {
	if len(r.SnapshotIDs) == 0 {
		return "", false
	}
	return r.SnapshotIDs[len(r.SnapshotIDs)-1], true
}
