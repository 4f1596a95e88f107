// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/Saadajee/neurostack-copilot/pkg/sessionstore"
	"github.com/Saadajee/neurostack-copilot/pkg/telemetry"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type CopilotConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// BaseURL of the RAG service, e.g. http://localhost:8000
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// RequestTimeout bounds one request including the streamed body
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=1s,lte=10m"`

	// Identity scopes the stored conversation. Defaults to the OS user.
	Identity string `yaml:"identity" validate:"required"`

	// TokenFile holds the bearer token written by `copilot login`
	TokenFile string `yaml:"token_file"`

	// Personality is the output style: full, standard, minimal, machine
	Personality string `yaml:"personality" validate:"omitempty,oneof=full standard minimal machine"`

	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type StoreConfig struct {
	// Backend is badger, redis, sqlite or memory
	Backend  string `yaml:"backend" validate:"oneof=badger redis sqlite memory"`
	Path     string `yaml:"path" validate:"required_if=Backend badger,required_if=Backend sqlite"`
	RedisURL string `yaml:"redis_url,omitempty" validate:"required_if=Backend redis"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	// TraceExporter is none, stdout or otlp
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `yaml:"otlp_endpoint,omitempty"`

	// MetricsAddr serves /metrics while chatting when set, e.g. 127.0.0.1:9464
	MetricsAddr string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the config written on first run.
func DefaultConfig() CopilotConfig {
	dir := defaultDir()
	return CopilotConfig{
		Meta:           MetaConfig{Version: CurrentConfigVersion},
		BaseURL:        "http://localhost:8000",
		RequestTimeout: 60 * time.Second,
		Identity:       defaultIdentity(),
		TokenFile:      filepath.Join(dir, "token"),
		Personality:    "full",
		Store: StoreConfig{
			Backend: sessionstore.BackendBadger,
			Path:    filepath.Join(dir, "sessions"),
		},
		Log: LogConfig{
			Level: "info",
			Dir:   filepath.Join(dir, "logs"),
		},
		Telemetry: TelemetryConfig{
			TraceExporter: telemetry.ExporterNone,
			OTLPEndpoint:  "localhost:4317",
		},
	}
}

// defaultDir is ~/.neurostack, or .neurostack when there is no home.
func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".neurostack"
	}
	return filepath.Join(home, ".neurostack")
}

func defaultIdentity() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "local"
}
