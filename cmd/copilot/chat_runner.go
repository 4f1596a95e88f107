// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main is the copilot CLI.
//
// Architecture:
//
//	cmd_chat.go → ChatRunner → chat.Session (Submit / Updates)
//	                  │
//	                  ├─ InputReader (bubbletea or piped stdin)
//	                  └─ ux.LogRenderer + ux.Spinner
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Saadajee/neurostack-copilot/pkg/chat"
	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
	"github.com/Saadajee/neurostack-copilot/pkg/ux"
)

// ChatRunnerConfig holds what a ChatRunner needs.
type ChatRunnerConfig struct {
	Session     *chat.Session
	Input       InputReader
	Output      io.Writer
	Personality ux.Personality

	// Interrupts cancels the in-flight query, or ends Run when idle.
	// Optional.
	Interrupts <-chan os.Signal

	Logger *slog.Logger
}

// ChatRunner drives the interactive loop: read a line, submit it, draw the
// reply as it streams.
//
// # Thread Safety
//
// Run and Ask must not be called concurrently.
type ChatRunner struct {
	session    *chat.Session
	input      InputReader
	out        io.Writer
	renderer   *ux.LogRenderer
	spinner    *ux.Spinner
	interrupts <-chan os.Signal
	logger     *slog.Logger

	mu          sync.Mutex
	cancelQuery context.CancelFunc
}

// NewChatRunner creates a runner. Output defaults to stdout.
func NewChatRunner(cfg ChatRunnerConfig) *ChatRunner {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatRunner{
		session:    cfg.Session,
		input:      cfg.Input,
		out:        out,
		renderer:   ux.NewLogRenderer(out, cfg.Personality),
		spinner:    ux.NewSpinner(os.Stderr, conversation.PlaceholderText),
		interrupts: cfg.Interrupts,
		logger:     logger,
	}
}

// Run loops until "exit", end of input, or an idle interrupt.
//
// # Outputs
//
//   - error: nil on normal exit, context.Canceled when interrupted while
//     idle, or an input error.
func (r *ChatRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.watchInterrupts(ctx, cancel)

	r.printBanner()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.prompt()
		line, err := r.input.ReadLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			return nil
		}
		if strings.HasPrefix(line, "/") {
			r.runCommand(ctx, line)
			continue
		}
		if err := r.Ask(ctx, line); err != nil {
			r.warn(err)
		}
	}
}

// Ask submits one query and renders the reply until it settles.
func (r *ChatRunner) Ask(ctx context.Context, query string) error {
	qctx, cancel := context.WithCancel(ctx)
	r.setCancel(cancel)
	defer func() {
		r.setCancel(nil)
		cancel()
	}()

	r.drainUpdates()

	done := make(chan error, 1)
	go func() { done <- r.session.Submit(qctx, query) }()

	r.spinner.UpdateMessage(conversation.PlaceholderText)
	r.spinner.Start()
	defer r.spinner.Stop()

	updates := r.session.Updates()
	for {
		select {
		case u := <-updates:
			r.render(u)
		case err := <-done:
			// Updates published just before Submit returned.
			for {
				select {
				case u := <-updates:
					r.render(u)
				default:
					return err
				}
			}
		}
	}
}

// render draws the Bot reply carried by u, if any.
func (r *ChatRunner) render(u chat.LogUpdate) {
	last, ok := u.Messages.Last()
	if !ok || last.Role != conversation.RoleBot {
		return
	}
	if last.InProgress && last.Text == conversation.PlaceholderText {
		if n := len(last.Passages); n > 0 {
			r.spinner.UpdateMessage(fmt.Sprintf("Found %d passages, composing answer...", n))
		}
		return
	}
	r.spinner.Stop()
	r.renderer.Reply(last)
}

func (r *ChatRunner) drainUpdates() {
	for {
		select {
		case <-r.session.Updates():
		default:
			return
		}
	}
}

// runCommand handles slash commands inside the chat loop.
func (r *ChatRunner) runCommand(ctx context.Context, line string) {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/history":
		r.renderer.Log(r.session.Messages())
	case "/clear":
		if err := r.session.Clear(ctx); err != nil {
			r.warn(err)
			return
		}
		r.info("Conversation cleared.")
	case "/good":
		r.feedback(ctx, conversation.RatingGood)
	case "/bad":
		r.feedback(ctx, conversation.RatingBad)
	case "/help":
		r.printHelp()
	default:
		r.warn(fmt.Errorf("unknown command %q, try /help", line))
	}
}

func (r *ChatRunner) feedback(ctx context.Context, rating conversation.Rating) {
	if _, err := r.session.RecordFeedback(ctx, rating); err != nil {
		r.warn(err)
		return
	}
	r.info("Thanks for the feedback.")
}

func (r *ChatRunner) watchInterrupts(ctx context.Context, cancelRun context.CancelFunc) {
	if r.interrupts == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.interrupts:
			r.mu.Lock()
			cancelQuery := r.cancelQuery
			r.mu.Unlock()
			if cancelQuery != nil {
				r.logger.Debug("interrupt cancels in-flight query")
				cancelQuery()
				continue
			}
			cancelRun()
			return
		}
	}
}

func (r *ChatRunner) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancelQuery = cancel
	r.mu.Unlock()
}

// =============================================================================
// Output Helpers
// =============================================================================

func (r *ChatRunner) prompt() {
	text := "You > "
	if ux.GetPersonality().Level != ux.PersonalityMachine {
		text = ux.Styles.UserLabel.Render("You") + " > "
	}
	if p, ok := r.input.(PromptingInputReader); ok {
		p.SetPrompt(text)
		return
	}
	if ux.GetPersonality().Level != ux.PersonalityMachine {
		fmt.Fprint(r.out, text)
	}
}

func (r *ChatRunner) printBanner() {
	level := ux.GetPersonality().Level
	if level == ux.PersonalityMachine {
		return
	}
	fmt.Fprintln(r.out, ux.Styles.Title.Render("Neurostack Copilot"))
	ux.Info(r.out, fmt.Sprintf("Signed in as %s. Type /help for commands, exit to quit.", r.session.Identity()))
	if n := len(r.session.Messages()); n > 0 {
		ux.Muted(r.out, level, fmt.Sprintf("%d messages in history (/history to show).", n))
	}
	fmt.Fprintln(r.out)
}

func (r *ChatRunner) printHelp() {
	fmt.Fprintln(r.out, "  /history   show the conversation")
	fmt.Fprintln(r.out, "  /clear     delete the conversation")
	fmt.Fprintln(r.out, "  /good      rate the last answer as good")
	fmt.Fprintln(r.out, "  /bad       rate the last answer as bad")
	fmt.Fprintln(r.out, "  exit       leave")
}

func (r *ChatRunner) info(msg string) {
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Fprintln(r.out, msg)
		return
	}
	fmt.Fprintln(r.out, ux.Styles.Success.Render(ux.IconSuccess.Render()+" "+msg))
}

func (r *ChatRunner) warn(err error) {
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, ux.Styles.Warning.Render(ux.IconWarning.Render()+" "+err.Error()))
}

// isExitCommand is case-sensitive.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
