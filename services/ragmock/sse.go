// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ragmock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes the query stream: one "data: <json>" line per frame, a
// blank line after each, and "data: [DONE]" at the end.
//
// # Description
//
// Each frame carries exactly one of token, answer or chunks. Every write
// flushes so the client sees tokens as they are produced.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Assumptions
//
//   - Caller has set the headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	// WriteToken writes {"token": content}.
	WriteToken(content string) error

	// WriteAnswer writes {"answer": answer}, replacing the client's text.
	WriteAnswer(answer string) error

	// WriteChunks writes {"chunks": hits}. A nil slice is written as [].
	WriteChunks(hits []Hit) error

	// WriteDone writes the terminal [DONE] frame.
	WriteDone() error

	// WriteKeepAlive writes an SSE comment. Clients ignore it.
	WriteKeepAlive() error

	// Frames returns how many data frames were written, [DONE] included.
	Frames() int
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	frames  int
}

// NewSSEWriter wraps w.
//
// # Outputs
//
//   - SSEWriter: Ready to write frames.
//   - error: Non-nil if w does not support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteToken(content string) error {
	return w.writeJSON(map[string]string{"token": content})
}

func (w *sseWriter) WriteAnswer(answer string) error {
	return w.writeJSON(map[string]string{"answer": answer})
}

func (w *sseWriter) WriteChunks(hits []Hit) error {
	if hits == nil {
		hits = []Hit{}
	}
	return w.writeJSON(map[string][]Hit{"chunks": hits})
}

func (w *sseWriter) WriteDone() error {
	return w.writeData("[DONE]")
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *sseWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return w.writeData(string(data))
}

func (w *sseWriter) writeData(data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.frames++
	framesWritten.Inc()
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders sets the streaming response headers.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Compile-time interface check
var _ SSEWriter = (*sseWriter)(nil)
