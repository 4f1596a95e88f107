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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Saadajee/neurostack-copilot/pkg/ux"
)

func runChatCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{verbose: verbose, withSession: true, serveMetrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runner := NewChatRunner(ChatRunnerConfig{
		Session:     a.session,
		Input:       NewInputReader(50),
		Output:      cmd.OutOrStdout(),
		Personality: personality(),
		Interrupts:  sigCh,
		Logger:      a.logger.Slog(),
	})

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{verbose: verbose, withSession: true})
	if err != nil {
		return err
	}
	defer a.Close()

	runner := NewChatRunner(ChatRunnerConfig{
		Session:     a.session,
		Output:      cmd.OutOrStdout(),
		Personality: personality(),
		Logger:      a.logger.Slog(),
	})
	return runner.Ask(ctx, strings.Join(args, " "))
}

// personality is the global level with passages shown outside machine mode.
func personality() ux.Personality {
	p := ux.GetPersonality()
	p.ShowPassages = p.Level != ux.PersonalityMinimal
	return p
}
