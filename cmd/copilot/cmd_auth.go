// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Saadajee/neurostack-copilot/pkg/ux"
)

func runLoginCommand(cmd *cobra.Command, args []string) error {
	token := strings.TrimSpace(loginToken)
	if token == "" {
		line, err := NewLineReader(cmd.InOrStdin()).ReadLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read token: %w", err)
		}
		token = line
	}
	if token == "" {
		return errors.New("no token given: use --token or pipe it on stdin")
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{verbose: verbose})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tokenFile.Save(token); err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Token stored in %s", a.tokenFile.Path))
	return nil
}

// runLogoutCommand clears this identity's conversation, then the token.
func runLogoutCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, appOptions{verbose: verbose, withSession: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Clear(cmd.Context()); err != nil {
		return err
	}
	if err := a.tokenFile.Remove(); err != nil {
		return err
	}
	a.creds.Forget()
	ux.Success(fmt.Sprintf("Logged out %s", a.session.Identity()))
	return nil
}
