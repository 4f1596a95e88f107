// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
	"github.com/Saadajee/neurostack-copilot/pkg/ux"
)

func runHistoryCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, appOptions{verbose: verbose, withSession: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ux.NewLogRenderer(cmd.OutOrStdout(), personality()).Log(a.session.Messages())
	return nil
}

func runClearCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, appOptions{verbose: verbose, withSession: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Clear(cmd.Context()); err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Conversation for %s cleared", a.session.Identity()))
	return nil
}

func runFeedbackCommand(cmd *cobra.Command, args []string) error {
	rating := conversation.Rating(args[0])
	if !rating.Valid() {
		return fmt.Errorf("%w: %q (want good or bad)", conversation.ErrInvalidRating, args[0])
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{verbose: verbose, withSession: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ex, err := a.session.RecordFeedback(cmd.Context(), rating)
	if err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Rated %q as %s", truncate(ex.Query, 60), rating))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
