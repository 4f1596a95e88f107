// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command ragmock starts the development RAG server.
//
// It answers from a built-in IT support FAQ (or a JSON file) and speaks the
// same stream format as the production service, so the copilot CLI can be
// run end to end without a model.
//
// # Environment Variables
//
//   - RAGMOCK_ADDR: listen address (default: :8000)
//   - RAGMOCK_TOKEN: accepted bearer token; empty accepts any (default: empty)
//   - RAGMOCK_FAQ_FILE: JSON array of {question, answer, source} (optional)
//   - RAGMOCK_TOKEN_DELAY: pause between token frames (default: 30ms)
//   - RAGMOCK_LOG_LEVEL: debug, info, warn, error (default: info)
//   - OTEL_TRACES_EXPORTER: none, stdout, otlp (default: none)
//
// # Usage
//
//	go build -o ragmock ./cmd/ragmock
//	RAGMOCK_TOKEN=dev ./ragmock
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Saadajee/neurostack-copilot/pkg/logging"
	"github.com/Saadajee/neurostack-copilot/pkg/telemetry"
	"github.com/Saadajee/neurostack-copilot/services/ragmock"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("ragmock: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	level, err := logging.ParseLevel(getEnvString("RAGMOCK_LOG_LEVEL", "info"))
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: ragmock.ServiceName,
		JSON:    true,
		Output:  os.Stdout,
	})
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig(ragmock.ServiceName))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	cfg := ragmock.Config{
		Token:      os.Getenv("RAGMOCK_TOKEN"),
		TokenDelay: getEnvDuration("RAGMOCK_TOKEN_DELAY", 30*time.Millisecond),
		Logger:     slogger,
	}
	if path := os.Getenv("RAGMOCK_FAQ_FILE"); path != "" {
		kb, err := ragmock.LoadKnowledgeBase(path)
		if err != nil {
			return err
		}
		cfg.Knowledge = kb
	}
	if cfg.Token == "" {
		slogger.Warn("RAGMOCK_TOKEN not set, accepting any bearer token")
	}

	return ragmock.New(cfg).Run(ctx, getEnvString("RAGMOCK_ADDR", ":8000"))
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
