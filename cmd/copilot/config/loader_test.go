// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

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

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "copilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "copilot.yaml")

	require.NoError(t, createDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg CopilotConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, CurrentConfigVersion, cfg.Meta.Version)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestLoadFrom_FirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copilot.yaml")

	cfg, err := LoadFrom(path)

	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.NotEmpty(t, cfg.Identity)
}

func TestLoadFrom_File(t *testing.T) {
	path := writeConfig(t, `
base_url: https://rag.example.com
request_timeout: 90s
identity: alice
store:
  backend: sqlite
  path: /tmp/copilot.db
log:
  level: debug
`)

	cfg, err := LoadFrom(path)

	require.NoError(t, err)
	assert.Equal(t, "https://rag.example.com", cfg.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "alice", cfg.Identity)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter, "missing keys keep defaults")
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "identity: alice\n")
	t.Setenv(EnvIdentity, "bob")
	t.Setenv(EnvTimeout, "30s")
	t.Setenv(EnvStoreBackend, "REDIS")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")

	cfg, err := LoadFrom(path)

	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Identity)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
}

func TestLoadFrom_BadTimeoutEnv(t *testing.T) {
	t.Setenv(EnvTimeout, "soon")

	_, err := LoadFrom(writeConfig(t, ""))

	assert.ErrorContains(t, err, EnvTimeout)
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	_, err := LoadFrom(writeConfig(t, "base_url: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CopilotConfig)
		wantErr string
	}{
		{"defaults", func(*CopilotConfig) {}, ""},
		{"missing base url", func(c *CopilotConfig) { c.BaseURL = "" }, "BaseURL"},
		{"bad base url", func(c *CopilotConfig) { c.BaseURL = "not a url" }, "BaseURL"},
		{"timeout too small", func(c *CopilotConfig) { c.RequestTimeout = time.Millisecond }, "RequestTimeout"},
		{"timeout too large", func(c *CopilotConfig) { c.RequestTimeout = time.Hour }, "RequestTimeout"},
		{"unknown backend", func(c *CopilotConfig) { c.Store.Backend = "etcd" }, "Backend"},
		{"redis without url", func(c *CopilotConfig) { c.Store.Backend = "redis" }, "RedisURL"},
		{"badger without path", func(c *CopilotConfig) { c.Store.Path = "" }, "Path"},
		{"memory without path", func(c *CopilotConfig) { c.Store.Backend = "memory"; c.Store.Path = "" }, ""},
		{"bad log level", func(c *CopilotConfig) { c.Log.Level = "trace" }, "Level"},
		{"bad exporter", func(c *CopilotConfig) { c.Telemetry.TraceExporter = "zipkin" }, "TraceExporter"},
		{"bad metrics addr", func(c *CopilotConfig) { c.Telemetry.MetricsAddr = "nowhere" }, "MetricsAddr"},
		{"bad personality", func(c *CopilotConfig) { c.Personality = "loud" }, "Personality"},
		{"empty identity", func(c *CopilotConfig) { c.Identity = "" }, "Identity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := Validate(cfg)

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
