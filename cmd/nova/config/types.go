// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the nova YAML configuration.
package config

import (
	"time"

	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
)

// NovaConfig is the root of ~/.nova/config.yaml.
type NovaConfig struct {
	// Home anchors every relative path below. Supports ~ expansion.
	Home string `yaml:"home" validate:"required"`

	Roots     RootsConfig      `yaml:"roots"`
	Storage   StorageConfig    `yaml:"storage"`
	Runner    RunnerConfig     `yaml:"runner"`
	Server    ServerConfig     `yaml:"server"`
	Tools     ToolsConfig      `yaml:"tools"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Mirror    MirrorConfig     `yaml:"mirror"`
}

// RootsConfig names the three trees tools can reach.
type RootsConfig struct {
	Integrated string `yaml:"integrated" validate:"required"`
	Workspaces string `yaml:"workspaces" validate:"required"`
	Base       string `yaml:"base" validate:"required"`
}

type StorageConfig struct {
	Snapshots string `yaml:"snapshots" validate:"required"`
	Registry  string `yaml:"registry" validate:"required_unless=InMemory true"`
	Staging   string `yaml:"staging"`
	Locks     string `yaml:"locks"`

	// InMemory keeps the request registry in memory. Nothing survives a
	// restart.
	InMemory bool `yaml:"in_memory"`
}

// RunnerConfig controls process tools and run_tests.
type RunnerConfig struct {
	// TestCommand receives the workspace path as its last argument. Empty
	// selects the built-in syntax checker.
	TestCommand []string      `yaml:"test_command,omitempty"`
	TestTimeout time.Duration `yaml:"test_timeout" validate:"gte=0"`
	ToolTimeout time.Duration `yaml:"tool_timeout" validate:"gte=0"`

	// MaxOutput caps captured bytes per stream.
	MaxOutput int    `yaml:"max_output" validate:"gte=0"`
	Python    string `yaml:"python"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type ToolsConfig struct {
	// Rate is tool runs per second. Zero disables limiting.
	Rate  float64 `yaml:"rate" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// MirrorConfig uploads committed snapshots to a GCS bucket.
type MirrorConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
}

// DefaultConfig lays everything out under ~/.nova.
func DefaultConfig() NovaConfig {
	return NovaConfig{
		Home: "~/.nova",
		Roots: RootsConfig{
			Integrated: "integrated",
			Workspaces: "workspaces",
			Base:       "base",
		},
		Storage: StorageConfig{
			Snapshots: "snapshots",
			Registry:  "registry",
			Staging:   "staging",
			Locks:     "locks",
		},
		Runner: RunnerConfig{
			TestTimeout: 30 * time.Second,
			ToolTimeout: 60 * time.Second,
			MaxOutput:   64 << 10,
			Python:      "python3",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:12310",
			ShutdownTimeout: 10 * time.Second,
		},
		Tools: ToolsConfig{
			Rate:  20,
			Burst: 40,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
		Telemetry: telemetry.DefaultConfig(),
		Mirror: MirrorConfig{
			Prefix: "nova",
		},
	}
}
