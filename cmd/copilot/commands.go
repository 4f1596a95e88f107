// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Saadajee/neurostack-copilot/cmd/copilot/config"
	"github.com/Saadajee/neurostack-copilot/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	personalityLevel string // full/standard/minimal/machine
	identityFlag     string
	verbose          bool
	loginToken       string

	cfg config.CopilotConfig

	rootCmd = &cobra.Command{
		Use:   "copilot",
		Short: "Terminal client for the Neurostack RAG copilot",
		Long: `copilot asks questions of a Neurostack RAG service, streams the
answer as it is generated and keeps a per-user conversation history.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE:  runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand, // Defined in cmd_chat.go
	}

	// --- History ---
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show the stored conversation",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCommand, // Defined in cmd_history.go
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored conversation",
		Args:  cobra.NoArgs,
		RunE:  runClearCommand, // Defined in cmd_history.go
	}
	feedbackCmd = &cobra.Command{
		Use:       "feedback good|bad",
		Short:     "Rate the most recent answer",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"good", "bad"},
		RunE:      runFeedbackCommand, // Defined in cmd_history.go
	}

	// --- Service ---
	analyticsCmd = &cobra.Command{
		Use:   "analytics",
		Short: "Show usage analytics from the service",
		Args:  cobra.NoArgs,
		RunE:  runAnalyticsCommand, // Defined in cmd_service.go
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check service health and index readiness",
		Args:  cobra.NoArgs,
		RunE:  runHealthCommand, // Defined in cmd_service.go
	}

	// --- Auth ---
	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for the service",
		Long:  "Stores the token from --token, or the first line of stdin, in the configured token file.",
		Args:  cobra.NoArgs,
		RunE:  runLoginCommand, // Defined in cmd_auth.go
	}
	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored token and this user's conversation",
		Args:  cobra.NoArgs,
		RunE:  runLogoutCommand, // Defined in cmd_auth.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.neurostack/copilot.yaml)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "", "output style: full, standard, minimal, machine")
	rootCmd.PersistentFlags().StringVar(&identityFlag, "identity", "", "override the configured identity")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror logs to stderr")

	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token to store")

	rootCmd.AddCommand(chatCmd, askCmd, historyCmd, clearCmd, feedbackCmd,
		analyticsCmd, healthCmd, loginCmd, logoutCmd)
}

// loadConfig runs before every command.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		err = config.Load()
		cfg = config.Global
	}
	if err != nil {
		return err
	}
	if identityFlag != "" {
		cfg.Identity = identityFlag
	}

	// Flag, then environment, then config file. Piped output stays machine.
	if personalityLevel != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
		return nil
	}
	ux.InitPersonality()
	if os.Getenv(ux.EnvPersonality) == "" && ux.IsInteractive() && cfg.Personality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(cfg.Personality))
	}
	return nil
}
