// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream ingests the RAG query endpoint's streaming response.
//
// The layering follows the CLI's streaming architecture:
//
//	HTTP Response Body → LineDecoder → ParseLine → Accumulator → Snapshot
//
// Each layer has a single responsibility:
//
//   - LineDecoder: reassembles complete lines across network chunk boundaries.
//   - ParseLine: classifies one line into typed Events. Never fails.
//   - Accumulator: folds Events into the running answer and passage list.
//   - Pump: owns the three above for one query and publishes Snapshots
//     in decode order to a single consumer.
//
// # Wire Format
//
//	data: {"token":"X "}\n
//	\n
//	data: {"chunks":[{"question":"q1","answer":"a1","score":0.87}]}\n
//	\n
//	data: {"answer":"Final text"}\n
//	\n
//	data: [DONE]\n
//
// Lines without the "data: " prefix are ignored. The stream completes on
// "data: [DONE]" or on connection close, whichever comes first.
package stream

import "github.com/Saadajee/neurostack-copilot/pkg/conversation"

// Event is one decoded unit of the streaming protocol.
//
// The set of implementations is closed: Token, Chunks, FinalAnswer, End
// and Unparseable. Consumers switch on the concrete type; there is no
// ad hoc field probing past the parser.
type Event interface {
	// Kind returns a stable label for logging and metrics.
	Kind() string

	isEvent()
}

// Token is an incremental answer fragment to append.
type Token struct {
	Text string
}

// Chunks replaces the current passage list wholesale.
type Chunks struct {
	Items []conversation.Passage
}

// FinalAnswer is the authoritative full answer. It supersedes any
// accumulated tokens but does not end the stream by itself.
type FinalAnswer struct {
	Text string
}

// End is the explicit stream terminator. No further events follow.
type End struct{}

// Unparseable is a line that did not decode as an event. It is dropped
// silently and never aborts the stream.
type Unparseable struct {
	Line   string
	Reason string
}

func (Token) Kind() string       { return "token" }
func (Chunks) Kind() string      { return "chunks" }
func (FinalAnswer) Kind() string { return "answer" }
func (End) Kind() string         { return "end" }
func (Unparseable) Kind() string { return "unparseable" }

func (Token) isEvent()       {}
func (Chunks) isEvent()      {}
func (FinalAnswer) isEvent() {}
func (End) isEvent()         {}
func (Unparseable) isEvent() {}

var (
	_ Event = Token{}
	_ Event = Chunks{}
	_ Event = FinalAnswer{}
	_ Event = End{}
	_ Event = Unparseable{}
)
