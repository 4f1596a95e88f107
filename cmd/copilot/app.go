// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Saadajee/neurostack-copilot/cmd/copilot/config"
	"github.com/Saadajee/neurostack-copilot/pkg/chat"
	"github.com/Saadajee/neurostack-copilot/pkg/credentials"
	"github.com/Saadajee/neurostack-copilot/pkg/logging"
	"github.com/Saadajee/neurostack-copilot/pkg/ragclient"
	"github.com/Saadajee/neurostack-copilot/pkg/sessionstore"
	"github.com/Saadajee/neurostack-copilot/pkg/telemetry"
)

// app holds the wired dependencies of one CLI invocation.
type app struct {
	cfg       config.CopilotConfig
	logger    *logging.Logger
	kv        sessionstore.KV
	store     *sessionstore.Adapter
	tokenFile credentials.File
	creds     *credentials.Sealed
	client    *ragclient.Client
	session   *chat.Session

	shutdownTelemetry func(context.Context) error
}

// appOptions selects what an invocation needs.
type appOptions struct {
	// verbose mirrors logs to stderr.
	verbose bool

	// withSession opens the store and loads the conversation.
	withSession bool

	// serveMetrics starts the /metrics endpoint when configured.
	serveMetrics bool
}

// newApp wires config → logging → telemetry → credentials → client →
// store → session. Close releases everything that was opened.
func newApp(ctx context.Context, cfg config.CopilotConfig, opts appOptions) (a *app, err error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "copilot",
		JSON:    cfg.Log.JSON,
		Quiet:   !opts.verbose,
	})
	logger := a.logger.Slog().With("identity", cfg.Identity)

	tcfg := telemetry.DefaultConfig("copilot")
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if a.shutdownTelemetry, err = telemetry.Init(ctx, tcfg); err != nil {
		return nil, err
	}
	if opts.serveMetrics && cfg.Telemetry.MetricsAddr != "" {
		if _, err := telemetry.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr, logger); err != nil {
			logger.Warn("metrics endpoint disabled", "error", err)
		}
	}

	a.tokenFile = credentials.File{Path: cfg.TokenFile}
	a.creds = credentials.NewSealed(credentials.Chain{credentials.Env{}, a.tokenFile})
	a.client = ragclient.New(ragclient.Config{
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.RequestTimeout,
		Credentials: a.creds,
		Logger:      logger,
	})

	if !opts.withSession {
		return a, nil
	}

	a.kv, err = sessionstore.Open(ctx, sessionstore.Config{
		Backend:  cfg.Store.Backend,
		Path:     cfg.Store.Path,
		RedisURL: cfg.Store.RedisURL,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	a.store = sessionstore.NewAdapter(a.kv, logger)

	a.session, err = chat.NewSession(ctx, chat.Config{
		Identity:  cfg.Identity,
		Store:     a.store,
		Transport: a.client,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close flushes telemetry, closes the store and wipes the cached token.
func (a *app) Close() error {
	var errs []error
	if a.creds != nil {
		a.creds.Forget()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	} else if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownTelemetry(ctx))
		cancel()
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
