// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package restore

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNova/pkg/logging"
	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
	"github.com/AleutianAI/AleutianNova/services/builder/snapshot"
	"github.com/AleutianAI/AleutianNova/services/builder/workspace"
)

type fixture struct {
	snaps   *snapshot.Engine
	ws      *workspace.Manager
	engine  *Engine
	staging string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snaps, err := snapshot.NewEngine(snapshot.Config{Root: t.TempDir(), Logger: logging.Nop()})
	require.NoError(t, err)
	ws, err := workspace.NewManager(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	staging := t.TempDir()
	engine, err := NewEngine(Config{Snapshots: snaps, Workspaces: ws, StagingDir: staging, Logger: logging.Nop()})
	require.NoError(t, err)
	return &fixture{snaps: snaps, ws: ws, engine: engine, staging: staging}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		out[filepath.ToSlash(rel)] = string(data)
		return err
	}))
	return out
}

func assertStagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directories must be removed")
}

func TestRestore_RoundTrip(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	tree := map[string]string{"a.txt": "1", "b/c.txt": "2", "b/d/e.bin": "\x00\x01\x02", "logs/run.partial-2024": "keep me"}
	writeTree(t, src, tree)

	snap, err := f.snaps.Create(context.Background(), snapshot.CreateRequest{RequestID: "r1", SourceRoot: src})
	require.NoError(t, err)

	dest := t.TempDir()
	res, err := f.engine.Restore(context.Background(), snap, dest)
	require.NoError(t, err)
	assert.Equal(t, StatusRestored, res.Status)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, tree, readTree(t, dest))
	assertStagingEmpty(t, f.staging)
}

func TestRestore_ConcreteScenario(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "1", "b/c.txt": "2"})

	snap, err := f.snaps.Create(context.Background(), snapshot.CreateRequest{RequestID: "r1", SourceRoot: src})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(src, "a.txt")))

	_, err = f.engine.Restore(context.Background(), snap, src)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "1", "b/c.txt": "2"}, readTree(t, src))
}

func TestRestore_DefaultsToSourceRoot(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "1"})
	snap, err := f.snaps.Create(context.Background(), snapshot.CreateRequest{RequestID: "r1", SourceRoot: src})
	require.NoError(t, err)
	writeTree(t, src, map[string]string{"a.txt": "changed"})

	res, err := f.engine.Restore(context.Background(), snap, "")
	require.NoError(t, err)
	assert.Equal(t, src, res.Destination)
	assert.Equal(t, map[string]string{"a.txt": "1"}, readTree(t, src))
}

func TestRestore_TamperLeavesDestinationUntouched(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "1", "b/c.txt": "2"})
	snap, err := f.snaps.Create(context.Background(), snapshot.CreateRequest{RequestID: "r1", SourceRoot: src})
	require.NoError(t, err)

	data, err := os.ReadFile(snap.ArchivePath)
	require.NoError(t, err)
	data[0] ^= 0x01
	require.NoError(t, os.WriteFile(snap.ArchivePath, data, 0o644))

	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"a.txt": "current", "other.txt": "o"})
	before := readTree(t, dest)

	_, err = f.engine.Restore(context.Background(), snap, dest)
	assert.ErrorIs(t, err, snapshot.ErrIntegrity)
	assert.Equal(t, before, readTree(t, dest))
	assertStagingEmpty(t, f.staging)
}

// craftArchive writes a zip with the given entry names and a matching
// snapshot record, bypassing the engine.
func craftArchive(t *testing.T, names ...string) *snapshot.Snapshot {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crafted.zip")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("payload"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	return &snapshot.Snapshot{ID: "crafted", ArchivePath: path, Checksum: hex.EncodeToString(sum[:])}
}

func TestRestore_RejectsZipSlip(t *testing.T) {
	f := newFixture(t)
	snap := craftArchive(t, "ok.txt", "../../escaped.txt")
	dest := t.TempDir()

	_, err := f.engine.Restore(context.Background(), snap, dest)
	assert.ErrorIs(t, err, ErrUnsafeArchive)
	assert.Empty(t, readTree(t, dest), "nothing is copied when extraction fails")
	assertStagingEmpty(t, f.staging)
}

func TestRestore_RefusesSymlinkOutOfDestination(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "1", "b/c.txt": "2"})
	snap, err := f.snaps.Create(context.Background(), snapshot.CreateRequest{RequestID: "r1", SourceRoot: src})
	require.NoError(t, err)

	dest := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dest, "b")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err = f.engine.Restore(context.Background(), snap, dest)
	require.ErrorIs(t, err, fsutil.ErrEscape)
	assert.Empty(t, readTree(t, outside))
	assert.NoFileExists(t, filepath.Join(dest, "a.txt"))
	assertStagingEmpty(t, f.staging)
}

func TestRollback_NoSnapshot(t *testing.T) {
	f := newFixture(t)
	_, err := f.ws.Create("r1")
	require.NoError(t, err)
	_, err = f.ws.ApplyPatch("r1", "a.txt", []byte("proposed"))
	require.NoError(t, err)

	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"a.txt": "canonical"})
	before := readTree(t, dest)

	res, err := f.engine.Rollback(context.Background(), "r1", dest)
	require.NoError(t, err)
	assert.Equal(t, StatusNoSnapshot, res.Status)
	assert.True(t, res.WorkspaceRemoved)
	assert.False(t, f.ws.Exists("r1"))
	assert.Equal(t, before, readTree(t, dest))

	// Again, now with no workspace either.
	res, err = f.engine.Rollback(context.Background(), "r1", dest)
	require.NoError(t, err)
	assert.Equal(t, StatusNoSnapshot, res.Status)
	assert.False(t, res.WorkspaceRemoved)
}

func TestRollback_RestoresLatestAndDiscards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := t.TempDir()

	writeTree(t, dest, map[string]string{"a.txt": "v1"})
	_, err := f.snaps.Create(ctx, snapshot.CreateRequest{RequestID: "r1", SourceRoot: dest})
	require.NoError(t, err)
	writeTree(t, dest, map[string]string{"a.txt": "v2"})
	latest, err := f.snaps.Create(ctx, snapshot.CreateRequest{RequestID: "r1", SourceRoot: dest})
	require.NoError(t, err)

	_, err = f.ws.Create("r1")
	require.NoError(t, err)
	writeTree(t, dest, map[string]string{"a.txt": "merged-bad"})

	res, err := f.engine.Rollback(ctx, "r1", dest)
	require.NoError(t, err)
	assert.Equal(t, StatusRestored, res.Status)
	assert.Equal(t, latest.ID, res.SnapshotID)
	assert.True(t, res.WorkspaceRemoved)
	assert.Equal(t, map[string]string{"a.txt": "v2"}, readTree(t, dest))
}

func TestRollback_IntegrityFailureKeepsWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"a.txt": "v1"})
	snap, err := f.snaps.Create(ctx, snapshot.CreateRequest{RequestID: "r1", SourceRoot: dest})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snap.ArchivePath, []byte("garbage"), 0o644))
	_, err = f.ws.Create("r1")
	require.NoError(t, err)

	_, err = f.engine.Rollback(ctx, "r1", dest)
	assert.ErrorIs(t, err, snapshot.ErrIntegrity)
	assert.True(t, f.ws.Exists("r1"))
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}
