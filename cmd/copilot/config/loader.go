// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file.
const (
	EnvConfigPath   = "NEUROSTACK_CONFIG"
	EnvBaseURL      = "NEUROSTACK_BASE_URL"
	EnvTimeout      = "NEUROSTACK_REQUEST_TIMEOUT"
	EnvIdentity     = "NEUROSTACK_IDENTITY"
	EnvTokenFile    = "NEUROSTACK_TOKEN_FILE"
	EnvStoreBackend = "NEUROSTACK_STORE_BACKEND"
	EnvStorePath    = "NEUROSTACK_STORE_PATH"
	EnvRedisURL     = "NEUROSTACK_REDIS_URL"
	EnvLogLevel     = "NEUROSTACK_LOG_LEVEL"
)

var (
	// Global is a singleton instance
	Global CopilotConfig
	once   sync.Once

	validate = validator.New()
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		// A missing .env is normal.
		_ = godotenv.Load()
		Global, err = LoadFrom(DefaultPath())
	})
	return err
}

// DefaultPath is $NEUROSTACK_CONFIG or ~/.neurostack/copilot.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(defaultDir(), "copilot.yaml")
}

// LoadFrom reads path, creating it with defaults on first run, applies
// environment overrides and validates the result.
func LoadFrom(path string) (CopilotConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return CopilotConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CopilotConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	// Start from defaults so keys missing in older files keep sane values.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CopilotConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return CopilotConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return CopilotConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg CopilotConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *CopilotConfig) error {
	setString(&cfg.BaseURL, EnvBaseURL)
	setString(&cfg.Identity, EnvIdentity)
	setString(&cfg.TokenFile, EnvTokenFile)
	setString(&cfg.Store.Backend, EnvStoreBackend)
	setString(&cfg.Store.Path, EnvStorePath)
	setString(&cfg.Store.RedisURL, EnvRedisURL)
	setString(&cfg.Log.Level, EnvLogLevel)

	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
