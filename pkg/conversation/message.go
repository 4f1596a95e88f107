// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation holds the per-identity chat log and the reconciler
// that folds streaming updates into it.
//
// # Invariants
//
//   - At most one message is in progress, and if one is, it is the last
//     element of the log and has RoleBot.
//   - User messages are never modified after they are appended.
//   - A Bot message leaves the in-progress state exactly once and never
//     returns to it.
//
// The log is owned by a single writer (the Reconciler) for one identity.
// It is persisted after every mutation through the Store interface.
package conversation

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Fixed user-visible texts.
const (
	// PlaceholderText is shown in a freshly submitted Bot reply.
	PlaceholderText = "Thinking..."

	// EmptyAnswerText settles a reply whose stream produced no answer.
	EmptyAnswerText = "Done."

	// OfflineText settles a reply whose transport failed before any event.
	OfflineText = "Server is offline or unreachable."
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Rating is the user's verdict on a settled Bot reply.
type Rating string

const (
	RatingGood Rating = "good"
	RatingBad  Rating = "bad"
)

// Valid reports whether r is one of the known ratings.
func (r Rating) Valid() bool {
	return r == RatingGood || r == RatingBad
}

// Passage is one retrieved supporting question/answer pair.
//
// Score is the retriever's relevance in [0,1]. It is core data and must
// survive persistence unchanged; only Relevance rounds it.
type Passage struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Score    float64 `json:"score"`
	Source   string  `json:"source,omitempty"`
}

// Relevance returns the score as a percentage rounded to one decimal.
//
// Example: Score 0.87 → 87.0, Score 0.12345 → 12.3.
func (p Passage) Relevance() float64 {
	return math.Round(p.Score*1000) / 10
}

// Message is one entry of the conversation log.
//
// JSON field names match the layout the web client stored, so logs written
// by either client load in the other.
type Message struct {
	ID         string    `json:"id,omitempty"`
	Role       Role      `json:"type"`
	Text       string    `json:"text"`
	Passages   []Passage `json:"chunks,omitempty"`
	InProgress bool      `json:"isStreaming,omitempty"`
	Feedback   Rating    `json:"feedback,omitempty"`
	CreatedAt  int64     `json:"created_at,omitempty"`
}

func newMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// Log is the ordered conversation for one identity.
type Log []Message

// Clone returns a deep copy of the log.
func (l Log) Clone() Log {
	if l == nil {
		return nil
	}
	out := make(Log, len(l))
	for i, m := range l {
		out[i] = m
		out[i].Passages = clonePassages(m.Passages)
	}
	return out
}

// Last returns the final message and true, or false for an empty log.
func (l Log) Last() (Message, bool) {
	if len(l) == 0 {
		return Message{}, false
	}
	return l[len(l)-1], true
}

// Pending returns the index of the in-progress Bot reply, or -1.
func (l Log) Pending() int {
	if len(l) == 0 {
		return -1
	}
	last := len(l) - 1
	if l[last].Role == RoleBot && l[last].InProgress {
		return last
	}
	return -1
}

// LastSettledReply returns the index of the most recent settled Bot
// message that directly follows a User message, or -1.
func (l Log) LastSettledReply() int {
	for i := len(l) - 1; i > 0; i-- {
		if l[i].Role == RoleBot && !l[i].InProgress && l[i-1].Role == RoleUser {
			return i
		}
	}
	return -1
}

// clonePassages copies p. An empty list becomes nil so that a log
// compares equal to itself after a JSON round trip.
func clonePassages(p []Passage) []Passage {
	if len(p) == 0 {
		return nil
	}
	out := make([]Passage, len(p))
	copy(out, p)
	return out
}
