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

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNova/pkg/logging"
	"github.com/AleutianAI/AleutianNova/services/builder/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logging.Nop())
}

func TestCreateOrReuse_GeneratesUniqueIDs(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, created, err := reg.CreateOrReuse(ctx, "")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Len(t, id, 8)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestCreateOrReuse_ReusesSuppliedID(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id, created, err := reg.CreateOrReuse(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
	assert.True(t, created)

	id, created, err = reg.CreateOrReuse(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
	assert.False(t, created)
}

func TestCreateOrReuse_RejectsUnsafeID(t *testing.T) {
	reg := newTestRegistry(t)
	for _, bad := range []string{"../x", "a/b", ".hidden", "with space"} {
		_, _, err := reg.CreateOrReuse(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestRecord_UnknownRequest(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Record(context.Background(), "nope", Event{Action: ActionPatch})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_AppendsAndFolds(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	id, _, err := reg.CreateOrReuse(ctx, "r1")
	require.NoError(t, err)

	_, err = reg.Record(ctx, id, Event{Action: ActionPrepare, State: StatePrepared, WorkspacePath: "/ws/r1", SnapshotID: "s1"})
	require.NoError(t, err)
	_, err = reg.Record(ctx, id, Event{Action: ActionPatch, State: StatePatched, Path: "a.txt"})
	require.NoError(t, err)
	_, err = reg.Record(ctx, id, Event{Action: ActionMerge, State: StateMerged, SnapshotID: "s2"})
	require.NoError(t, err)
	_, err = reg.Record(ctx, id, Event{Action: ActionRestore, SnapshotID: "s1"})
	require.NoError(t, err)

	events, err := reg.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, id, ev.RequestID)
		assert.False(t, ev.At.IsZero())
	}

	req, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateMerged, req.State, "restore events do not change state")
	assert.Equal(t, "/ws/r1", req.WorkspacePath)
	assert.Equal(t, []string{"s1", "s2"}, req.SnapshotIDs)
	latest, ok := req.LatestSnapshot()
	assert.True(t, ok)
	assert.Equal(t, "s2", latest)
}

func TestRecord_ConcurrentWritersGetDistinctSeq(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	id, _, err := reg.CreateOrReuse(ctx, "busy")
	require.NoError(t, err)

	const writers = 4
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Record(ctx, id, Event{Action: ActionPatch, State: StatePatched})
		}()
	}
	wg.Wait()

	events, err := reg.Events(ctx, id)
	require.NoError(t, err)
	seqs := map[uint64]bool{}
	for _, ev := range events {
		assert.False(t, seqs[ev.Seq], "seq %d reused", ev.Seq)
		seqs[ev.Seq] = true
	}
}

func TestEnv_RoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	id, _, err := reg.CreateOrReuse(ctx, "envreq")
	require.NoError(t, err)

	_, err = reg.Env(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	doc := json.RawMessage(`{"os":"linux"}`)
	require.NoError(t, reg.PutEnv(ctx, id, doc))
	got, err := reg.Env(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(got))

	assert.ErrorIs(t, reg.PutEnv(ctx, "missing", doc), ErrNotFound)
}

func TestPlan_RoundTripAndReplace(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	id, _, err := reg.CreateOrReuse(ctx, "planreq")
	require.NoError(t, err)

	_, err = reg.Plan(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, reg.PutPlan(ctx, id, json.RawMessage(`{"intent":"first"}`)))
	require.NoError(t, reg.PutPlan(ctx, id, json.RawMessage(`{"intent":"second"}`)))
	got, err := reg.Plan(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent":"second"}`, string(got))

	_, err = reg.Env(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound, "plan and env are stored apart")
	assert.ErrorIs(t, reg.PutPlan(ctx, "missing", got), ErrNotFound)
}

func TestGet_UnknownRequest(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
