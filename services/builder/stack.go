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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianNova/services/builder/envinfo"
	"github.com/AleutianAI/AleutianNova/services/builder/lock"
	"github.com/AleutianAI/AleutianNova/services/builder/registry"
	"github.com/AleutianAI/AleutianNova/services/builder/restore"
	"github.com/AleutianAI/AleutianNova/services/builder/snapshot"
	"github.com/AleutianAI/AleutianNova/services/builder/store"
	"github.com/AleutianAI/AleutianNova/services/builder/tools"
	"github.com/AleutianAI/AleutianNova/services/builder/tools/fstools"
	"github.com/AleutianAI/AleutianNova/services/builder/tools/proctools"
	"github.com/AleutianAI/AleutianNova/services/builder/workspace"
)

// StackConfig describes every directory and limit a Stack needs.
type StackConfig struct {
	// IntegratedRoot is the canonical tree. Also the "integrated" tool root.
	IntegratedRoot string

	// WorkspacesDir holds one directory per request. Also the "workspace"
	// tool root.
	WorkspacesDir string

	// BaseRoot is the "base" tool root.
	BaseRoot string

	SnapshotsDir string
	StagingDir   string

	// LockDir holds tree lock files. Empty disables cross-process locking.
	LockDir string

	// RegistryDir is the badger directory, ignored when RegistryInMemory.
	RegistryDir      string
	RegistryInMemory bool

	TestCommand []string
	TestTimeout time.Duration

	// ToolTimeout is the default process tool timeout.
	ToolTimeout time.Duration
	MaxOutput   int
	Python      string

	// ToolRate limits tool handler runs per second. Zero disables it.
	ToolRate  float64
	ToolBurst int

	Mirror       snapshot.Mirror
	MirrorPrefix string

	CaptureEnv func(ctx context.Context) (*envinfo.Info, error)
	Logger     *slog.Logger
}

// Stack is an opened Service with the resources it owns.
type Stack struct {
	Service *Service
	Store   *store.Store
}

// OpenStack creates missing directories, opens the registry and wires the
// Service. Close releases the registry.
func OpenStack(_ context.Context, cfg StackConfig) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for name, dir := range map[string]string{
		"integrated root": cfg.IntegratedRoot,
		"workspaces dir":  cfg.WorkspacesDir,
		"base root":       cfg.BaseRoot,
		"snapshots dir":   cfg.SnapshotsDir,
	} {
		if dir == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
	}

	storeCfg := store.DefaultConfig(cfg.RegistryDir)
	if cfg.RegistryInMemory {
		storeCfg = store.InMemoryConfig()
	} else if cfg.RegistryDir == "" {
		return nil, errors.New("registry dir is required")
	}
	storeCfg.Logger = logger
	db, err := store.Open(storeCfg)
	if err != nil {
		return nil, err
	}

	svc, err := wire(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Stack{Service: svc, Store: db}, nil
}

func wire(cfg StackConfig, db *store.Store, logger *slog.Logger) (*Service, error) {
	workspaces, err := workspace.NewManager(cfg.WorkspacesDir, logger)
	if err != nil {
		return nil, err
	}
	snapshots, err := snapshot.NewEngine(snapshot.Config{
		Root:         cfg.SnapshotsDir,
		Logger:       logger,
		Mirror:       cfg.Mirror,
		MirrorPrefix: cfg.MirrorPrefix,
	})
	if err != nil {
		return nil, err
	}
	restorer, err := restore.NewEngine(restore.Config{
		Snapshots:  snapshots,
		Workspaces: workspaces,
		StagingDir: cfg.StagingDir,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	var trees *lock.TreeLocker
	if cfg.LockDir != "" {
		if trees, err = lock.NewTreeLocker(cfg.LockDir); err != nil {
			return nil, err
		}
	}

	roots, err := tools.NewRoots(cfg.IntegratedRoot, cfg.WorkspacesDir, cfg.BaseRoot)
	if err != nil {
		return nil, err
	}
	catalog := fstools.Tools(roots)
	catalog = append(catalog, proctools.Tools(roots, proctools.Options{
		Python:         cfg.Python,
		DefaultTimeout: cfg.ToolTimeout,
		MaxOutput:      cfg.MaxOutput,
	})...)
	reg, err := tools.NewRegistry(catalog...)
	if err != nil {
		return nil, err
	}
	opts := []tools.Option{tools.WithLogger(logger)}
	if cfg.ToolRate > 0 {
		burst := max(cfg.ToolBurst, 1)
		opts = append(opts, tools.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.ToolRate), burst)))
	}

	return NewService(ServiceConfig{
		IntegratedRoot: cfg.IntegratedRoot,
		TestCommand:    cfg.TestCommand,
		TestTimeout:    cfg.TestTimeout,
		MaxOutput:      cfg.MaxOutput,
		CaptureEnv:     cfg.CaptureEnv,
	}, Deps{
		Registry:   registry.New(db, logger),
		Workspaces: workspaces,
		Snapshots:  snapshots,
		Restorer:   restorer,
		Locks:      lock.NewManager(trees, logger),
		Gateway:    tools.NewGateway(reg, opts...),
		Logger:     logger,
	})
}

// Close releases the registry.
func (s *Stack) Close() error {
	return s.Store.Close()
}
