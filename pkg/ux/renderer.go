// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
)

// =============================================================================
// Log Renderer
// =============================================================================

// LogRenderer draws conversation logs to a terminal.
//
// # Description
//
// Renderers only render. The streaming reply is drawn incrementally:
// Reply writes only the text appended since the last call. When the new
// text does not extend what was printed (an authoritative answer replaced
// the streamed tokens), the reply is reprinted in full on a new line.
// Passages are printed once, after the reply settles.
//
// # Thread Safety
//
// Safe for concurrent use.
type LogRenderer struct {
	w           io.Writer
	personality Personality
	mu          sync.Mutex
	printed     string
	started     bool
}

// NewLogRenderer creates a renderer writing to w.
func NewLogRenderer(w io.Writer, p Personality) *LogRenderer {
	return &LogRenderer{w: w, personality: p}
}

// Reply renders the latest state of a Bot reply.
//
// The placeholder text is never printed; callers show a spinner instead.
func (r *LogRenderer) Reply(m conversation.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.InProgress && m.Text == conversation.PlaceholderText {
		return
	}

	if !r.started {
		fmt.Fprint(r.w, r.label(conversation.RoleBot))
		r.started = true
	}

	switch {
	case strings.HasPrefix(m.Text, r.printed):
		fmt.Fprint(r.w, m.Text[len(r.printed):])
	default:
		fmt.Fprint(r.w, "\n"+r.label(conversation.RoleBot)+m.Text)
	}
	r.printed = m.Text

	if m.InProgress {
		return
	}

	fmt.Fprintln(r.w)
	if r.personality.ShowPassages {
		r.passages(m.Passages)
	}
	r.printed = ""
	r.started = false
}

// Message renders one settled message in full.
func (r *LogRenderer) Message(m conversation.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := m.Text
	if m.InProgress {
		text += " " + r.muted("(in progress)")
	}
	fmt.Fprintf(r.w, "%s%s\n", r.label(m.Role), text)

	if m.Role == conversation.RoleBot && r.personality.ShowPassages {
		r.passages(m.Passages)
	}
	if m.Feedback != "" {
		fmt.Fprintf(r.w, "  %s\n", r.muted("rated "+string(m.Feedback)))
	}
}

// Log renders every message of a log.
func (r *LogRenderer) Log(log conversation.Log) {
	if len(log) == 0 {
		r.mu.Lock()
		Muted(r.w, r.personality.Level, "No messages yet.")
		r.mu.Unlock()
		return
	}
	for _, m := range log {
		r.Message(m)
	}
}

// passages must be called with mu held.
func (r *LogRenderer) passages(ps []conversation.Passage) {
	if len(ps) == 0 {
		return
	}

	shown := ps
	if len(shown) > MaxPassages {
		shown = shown[:MaxPassages]
	}

	machine := r.personality.Level == PersonalityMachine
	for i, p := range shown {
		rel := p.Relevance()
		band := BandFor(rel)
		if machine {
			fmt.Fprintf(r.w, "PASSAGE %d: relevance=%.1f band=%s question=%q\n", i+1, rel, band, p.Question)
			continue
		}
		badge := band.Style().Render(fmt.Sprintf("%5.1f%% %s", rel, band))
		fmt.Fprintf(r.w, "  %s %s %s\n", IconBullet.Render(), badge, Styles.Bold.Render(p.Question))
		if r.personality.Level == PersonalityFull && p.Answer != "" {
			fmt.Fprintf(r.w, "      %s\n", Styles.Muted.Render(p.Answer))
		}
	}

	if len(ps) > MaxPassages {
		Muted(r.w, r.personality.Level, fmt.Sprintf("Showing top %d of %d", MaxPassages, len(ps)))
	}
}

func (r *LogRenderer) label(role conversation.Role) string {
	if r.personality.Level == PersonalityMachine {
		if role == conversation.RoleUser {
			return "USER: "
		}
		return "BOT: "
	}
	if role == conversation.RoleUser {
		return Styles.UserLabel.Render("You") + " " + IconArrow.Render() + " "
	}
	return Styles.BotLabel.Render("Copilot") + " " + IconArrow.Render() + " "
}

func (r *LogRenderer) muted(s string) string {
	if r.personality.Level == PersonalityMachine {
		return s
	}
	return Styles.Muted.Render(s)
}
