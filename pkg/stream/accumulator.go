// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"strings"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
)

// Snapshot is the accumulator state published to the reconciler.
type Snapshot struct {
	// Answer is the running answer. On a final snapshot it is never empty.
	Answer string

	// Passages is the most recently received chunks list.
	Passages []conversation.Passage

	// Final marks the last snapshot of a query.
	Final bool

	// Terminated is true when the stream ended with an explicit [DONE].
	Terminated bool

	// Received is true once at least one non-ignorable event arrived.
	Received bool

	// Err is the transport error that ended the stream, if any.
	Err error
}

// Update converts the snapshot into a reconciler update.
func (s Snapshot) Update() conversation.Update {
	return conversation.Update{Text: s.Answer, Passages: s.Passages}
}

// Accumulator folds Events into the answer for one query.
//
// # Description
//
//   - Token: appended to the answer.
//   - Chunks: replaces the passage list (not additive).
//   - FinalAnswer: replaces the answer (not appended). Does not end the stream.
//   - End: marks the stream terminated.
//   - Unparseable: ignored.
//
// An Accumulator is created per query and discarded once the stream ends,
// so two queries never share state.
type Accumulator struct {
	answer     strings.Builder
	passages   []conversation.Passage
	terminated bool
	received   bool
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply folds ev into the state and reports whether the new state should
// be published immediately. Token, Chunks and FinalAnswer publish; End and
// Unparseable do not. End is published by Finalize.
func (a *Accumulator) Apply(ev Event) (emit bool) {
	switch e := ev.(type) {
	case Token:
		a.answer.WriteString(e.Text)
		a.received = true
		return true
	case Chunks:
		a.passages = e.Items
		a.received = true
		return true
	case FinalAnswer:
		a.answer.Reset()
		a.answer.WriteString(e.Text)
		a.received = true
		return true
	case End:
		a.terminated = true
		a.received = true
		return false
	default:
		return false
	}
}

// Terminated reports whether End has been applied.
func (a *Accumulator) Terminated() bool {
	return a.terminated
}

// Snapshot returns the in-progress view of the state.
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		Answer:     a.answer.String(),
		Passages:   copyPassages(a.passages),
		Terminated: a.terminated,
		Received:   a.received,
	}
}

// Finalize returns the final view. An empty answer becomes
// conversation.EmptyAnswerText. It applies equally after End and after
// the connection closed without one.
func (a *Accumulator) Finalize() Snapshot {
	s := a.Snapshot()
	s.Final = true
	if s.Answer == "" {
		s.Answer = conversation.EmptyAnswerText
	}
	return s
}

func copyPassages(p []conversation.Passage) []conversation.Passage {
	if p == nil {
		return nil
	}
	out := make([]conversation.Passage, len(p))
	copy(out, p)
	return out
}
