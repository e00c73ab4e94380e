// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".nova"), cfg.Home)
	assert.Equal(t, filepath.Join(home, ".nova", "integrated"), cfg.Roots.Integrated)
	assert.Equal(t, 30*time.Second, cfg.Runner.TestTimeout)
	assert.Equal(t, "127.0.0.1:12310", cfg.Server.Addr)
}

func TestDefaultConfig_RoundTripsAsYAML(t *testing.T) {
	data, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(data), "test_timeout: 30s")

	var back NovaConfig
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, DefaultConfig(), back)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Parse([]byte(`
home: ` + home + `
roots:
  integrated: /srv/tree
runner:
  test_command: ["go", "test", "./..."]
  test_timeout: 2m
storage:
  in_memory: true
  registry: ""
`))
	require.NoError(t, err)

	assert.Equal(t, "/srv/tree", cfg.Roots.Integrated)
	assert.Equal(t, filepath.Join(home, "workspaces"), cfg.Roots.Workspaces)
	assert.Equal(t, []string{"go", "test", "./..."}, cfg.Runner.TestCommand)
	assert.Equal(t, 2*time.Minute, cfg.Runner.TestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Runner.ToolTimeout)
	assert.True(t, cfg.Storage.InMemory)
	assert.Empty(t, cfg.Storage.Registry)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "roots: [unterminated"},
		{"missing root", "roots:\n  integrated: \"\""},
		{"bad addr", "server:\n  addr: nowhere"},
		{"negative timeout", "runner:\n  test_timeout: -1s"},
		{"bad level", "logging:\n  level: loud"},
		{"mirror without bucket", "mirror:\n  enabled: true"},
		{"registry required", "storage:\n  registry: \"\""},
		{"bad exporter", "telemetry:\n  trace_exporter: zipkin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDefaultPath_Env(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/elsewhere.yaml")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere.yaml", p)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), got)

	got, err = expandHome("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/abs", got)
}
