// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
)

func machineRenderer() (*LogRenderer, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogRenderer(&buf, Personality{Level: PersonalityMachine, ShowPassages: true}), &buf
}

func bot(text string, inProgress bool, passages ...conversation.Passage) conversation.Message {
	return conversation.Message{Role: conversation.RoleBot, Text: text, InProgress: inProgress, Passages: passages}
}

// =============================================================================
// Reply Tests
// =============================================================================

func TestLogRenderer_Reply_StreamsDeltas(t *testing.T) {
	r, buf := machineRenderer()

	r.Reply(bot(conversation.PlaceholderText, true))
	r.Reply(bot("X ", true))
	r.Reply(bot("X is Y", true))
	r.Reply(bot("X is Y", false))

	want := "BOT: X is Y\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestLogRenderer_Reply_SkipsPlaceholder(t *testing.T) {
	r, buf := machineRenderer()

	r.Reply(bot(conversation.PlaceholderText, true))

	if buf.Len() != 0 {
		t.Errorf("placeholder should not be printed, got %q", buf.String())
	}
}

func TestLogRenderer_Reply_ReprintsOnOverwrite(t *testing.T) {
	r, buf := machineRenderer()

	r.Reply(bot("draft answer", true))
	r.Reply(bot("Final text", false))

	want := "BOT: draft answer\nBOT: Final text\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestLogRenderer_Reply_ResetsBetweenReplies(t *testing.T) {
	r, buf := machineRenderer()

	r.Reply(bot("one", false))
	r.Reply(bot("two", false))

	want := "BOT: one\nBOT: two\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestLogRenderer_Reply_PassagesAfterSettle(t *testing.T) {
	r, buf := machineRenderer()
	p := conversation.Passage{Question: "q1", Answer: "a1", Score: 0.87}

	r.Reply(bot("", true, p))
	if strings.Contains(buf.String(), "PASSAGE") {
		t.Fatal("passages must wait for the reply to settle")
	}

	r.Reply(bot("Final text", false, p))

	out := buf.String()
	if !strings.Contains(out, `PASSAGE 1: relevance=87.0 band=high question="q1"`) {
		t.Errorf("missing passage line in %q", out)
	}
}

// =============================================================================
// Passage Tests
// =============================================================================

func TestLogRenderer_TopFivePassages(t *testing.T) {
	r, buf := machineRenderer()
	var ps []conversation.Passage
	for i := 0; i < 7; i++ {
		ps = append(ps, conversation.Passage{Question: fmt.Sprintf("q%d", i), Score: 0.5})
	}

	r.Message(bot("answer", false, ps...))

	out := buf.String()
	if n := strings.Count(out, "PASSAGE "); n != MaxPassages {
		t.Errorf("expected %d passages, got %d", MaxPassages, n)
	}
	if !strings.Contains(out, "Showing top 5 of 7") {
		t.Errorf("missing overflow note in %q", out)
	}
	if strings.Contains(out, `"q5"`) {
		t.Error("sixth passage should not be shown")
	}
}

func TestLogRenderer_NoOverflowNoteForFive(t *testing.T) {
	r, buf := machineRenderer()
	ps := make([]conversation.Passage, 5)

	r.Message(bot("answer", false, ps...))

	if strings.Contains(buf.String(), "Showing top") {
		t.Error("overflow note shown for exactly five passages")
	}
}

func TestLogRenderer_StyledOutputContainsText(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRenderer(&buf, Personality{Level: PersonalityFull, ShowPassages: true})

	r.Message(bot("X is Y", false, conversation.Passage{Question: "What is X?", Answer: "Y", Score: 0.61}))

	out := buf.String()
	for _, want := range []string{"Copilot", "X is Y", "61.0%", "medium", "What is X?"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}

// =============================================================================
// Log Tests
// =============================================================================

func TestLogRenderer_Log(t *testing.T) {
	r, buf := machineRenderer()

	r.Log(conversation.Log{
		{Role: conversation.RoleUser, Text: "What is X?"},
		{Role: conversation.RoleBot, Text: "X is Y", Feedback: conversation.RatingGood},
	})

	want := "USER: What is X?\nBOT: X is Y\n  rated good\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestLogRenderer_EmptyLog(t *testing.T) {
	r, buf := machineRenderer()

	r.Log(nil)

	if !strings.Contains(buf.String(), "No messages yet.") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

// =============================================================================
// Band Tests
// =============================================================================

func TestBandFor(t *testing.T) {
	tests := []struct {
		relevance float64
		want      Band
	}{
		{100, BandHigh},
		{80, BandHigh},
		{79.9, BandMedium},
		{60, BandMedium},
		{59.9, BandLow},
		{40, BandLow},
		{39.9, BandMinimal},
		{0, BandMinimal},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.relevance), func(t *testing.T) {
			if got := BandFor(tt.relevance); got != tt.want {
				t.Errorf("BandFor(%v) = %v, want %v", tt.relevance, got, tt.want)
			}
		})
	}
}
