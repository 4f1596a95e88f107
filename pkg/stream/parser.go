// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"encoding/json"
	"strings"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
)

const (
	// DataPrefix marks a data-bearing line.
	DataPrefix = "data: "

	// DoneSentinel is the payload of the explicit terminator frame.
	DoneSentinel = "[DONE]"
)

// Field names a data object may carry.
const (
	fieldToken  = "token"
	fieldChunks = "chunks"
	fieldAnswer = "answer"
)

// ParseLine classifies one decoded line.
//
// # Description
//
// Parsers only parse: no I/O, no state. The result is never empty and
// never an error.
//
//   - A line without the exact "data: " prefix → [Unparseable].
//   - A payload equal to "[DONE]" after trimming → [End].
//   - A payload that is not a JSON object → [Unparseable].
//   - A JSON object → one event per present field, in the fixed order
//     token, chunks, answer. Each field is decoded on its own: a field
//     that is null or of the wrong type is skipped and its siblings are
//     kept. An object with no usable field → [Unparseable].
//
// The order matters: answer is authoritative and must be folded after any
// token or chunks update from the same frame.
//
// An "answer" that is the empty string is treated as absent, so a blank
// answer never wipes out the streamed tokens.
//
// # Examples
//
//	ParseLine(`data: {"token":"Hi"}`)            // [Token{"Hi"}]
//	ParseLine(`data: [DONE]`)                    // [End{}]
//	ParseLine(`data: {not json`)                 // [Unparseable{...}]
//	ParseLine(`data: {"token":"a","answer":"b"}`) // [Token{"a"}, FinalAnswer{"b"}]
//	ParseLine(`data: {"token":5,"answer":"b"}`)   // [FinalAnswer{"b"}]
func ParseLine(line string) []Event {
	if !strings.HasPrefix(line, DataPrefix) {
		return []Event{Unparseable{Line: line, Reason: "missing data prefix"}}
	}

	data := strings.TrimSpace(line[len(DataPrefix):])
	if data == DoneSentinel {
		return []Event{End{}}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return []Event{Unparseable{Line: line, Reason: err.Error()}}
	}

	events := make([]Event, 0, 3)
	var firstErr error
	if raw, ok := present(fields, fieldToken); ok {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			firstErr = err
		} else {
			events = append(events, Token{Text: text})
		}
	}
	if raw, ok := present(fields, fieldChunks); ok {
		var items []conversation.Passage
		if err := json.Unmarshal(raw, &items); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if items == nil {
				items = []conversation.Passage{}
			}
			events = append(events, Chunks{Items: items})
		}
	}
	if raw, ok := present(fields, fieldAnswer); ok {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if text != "" {
			events = append(events, FinalAnswer{Text: text})
		}
	}

	if len(events) == 0 {
		reason := "no recognised fields"
		if firstErr != nil {
			reason = firstErr.Error()
		}
		return []Event{Unparseable{Line: line, Reason: reason}}
	}
	return events
}

// present returns the raw value of key when it is set to something other
// than null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}
