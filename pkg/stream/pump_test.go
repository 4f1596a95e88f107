// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
)

// =============================================================================
// Test Helpers
// =============================================================================

// runPump drives Pump on r and returns every snapshot it sent.
func runPump(t *testing.T, ctx context.Context, r io.Reader) ([]Snapshot, error) {
	t.Helper()
	out := make(chan Snapshot)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		errCh <- Pump(ctx, r, out, Options{RequestID: "test"})
	}()

	var got []Snapshot
	for s := range out {
		got = append(got, s)
	}
	return got, <-errCh
}

func answers(snaps []Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Answer
	}
	return out
}

// =============================================================================
// Pump Tests
// =============================================================================

func TestPump_TokensThenDone(t *testing.T) {
	body := "data: {\"token\":\"X \"}\n\n" +
		"data: {\"token\":\"is Y\"}\n\n" +
		"data: [DONE]\n\n"

	snaps, err := runPump(t, context.Background(), strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, []string{"X ", "X is Y", "X is Y"}, answers(snaps))

	final := snaps[len(snaps)-1]
	assert.True(t, final.Final)
	assert.True(t, final.Terminated)
	for _, s := range snaps[:len(snaps)-1] {
		assert.False(t, s.Final)
	}
}

func TestPump_ChunksThenAnswer(t *testing.T) {
	body := `data: {"chunks":[{"question":"q1","answer":"a1","score":0.87}]}` + "\n\n" +
		`data: {"answer":"Final text"}` + "\n\n" +
		"data: [DONE]\n\n"

	snaps, err := runPump(t, context.Background(), strings.NewReader(body))

	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, "", snaps[0].Answer)
	assert.Len(t, snaps[0].Passages, 1)

	final := snaps[2]
	assert.True(t, final.Final)
	assert.Equal(t, "Final text", final.Answer)
	assert.Equal(t, []conversation.Passage{{Question: "q1", Answer: "a1", Score: 0.87}}, final.Passages)
}

func TestPump_ClosedWithoutTerminator(t *testing.T) {
	body := "data: {\"token\":\"partial\"}\n\n"

	snaps, err := runPump(t, context.Background(), strings.NewReader(body))

	require.NoError(t, err)
	final := snaps[len(snaps)-1]
	assert.True(t, final.Final)
	assert.False(t, final.Terminated)
	assert.Equal(t, "partial", final.Answer)
}

func TestPump_EmptyStreamSettlesWithDone(t *testing.T) {
	snaps, err := runPump(t, context.Background(), strings.NewReader(""))

	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Final)
	assert.False(t, snaps[0].Received)
	assert.Equal(t, conversation.EmptyAnswerText, snaps[0].Answer)
}

func TestPump_DropsUnparseableLines(t *testing.T) {
	body := ": comment\n" +
		"data: {broken\n" +
		"data: {\"token\":\"ok\"}\n" +
		"event: ping\n" +
		"data: [DONE]\n"

	snaps, err := runPump(t, context.Background(), strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "ok"}, answers(snaps))
}

func TestPump_StopsReadingAfterDone(t *testing.T) {
	src := &chunkReader{chunks: []string{
		"data: [DONE]\n",
		"data: {\"token\":\"late\"}\n",
	}}

	snaps, err := runPump(t, context.Background(), src)

	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, conversation.EmptyAnswerText, snaps[0].Answer)
	assert.Len(t, src.chunks, 1, "frame after [DONE] must not be read")
}

func TestPump_FrameSplitAcrossReads(t *testing.T) {
	src := &chunkReader{chunks: []string{
		`data: {"tok`,
		`en":"X "}` + "\n\ndata: {\"token\":\"is",
		" Y\"}\n\ndata: [DO",
		"NE]\n\n",
	}}

	snaps, err := runPump(t, context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, []string{"X ", "X is Y", "X is Y"}, answers(snaps))
	assert.True(t, snaps[len(snaps)-1].Terminated)
}

func TestPump_TransportError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	src := &chunkReader{
		chunks: []string{"data: {\"token\":\"half\"}\n"},
		err:    boom,
	}

	snaps, err := runPump(t, context.Background(), src)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	final := snaps[len(snaps)-1]
	assert.True(t, final.Final)
	assert.True(t, final.Received)
	assert.ErrorIs(t, final.Err, boom)
	assert.Equal(t, "half", final.Answer)
}

func TestPump_TransportErrorBeforeAnyEvent(t *testing.T) {
	boom := errors.New("unexpected EOF")
	src := &chunkReader{err: boom}

	snaps, err := runPump(t, context.Background(), src)

	assert.ErrorIs(t, err, boom)
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].Received)
	assert.ErrorIs(t, snaps[0].Err, boom)
}

func TestPump_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snaps, err := runPump(t, ctx, strings.NewReader("data: {\"token\":\"x\"}\n"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, snaps)
}

func TestPump_CancelWhileBlockedOnSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Snapshot) // never drained

	done := make(chan error, 1)
	go func() {
		done <- Pump(ctx, strings.NewReader("data: {\"token\":\"x\"}\n"), out, Options{})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Pump did not return after cancellation")
	}
}

// =============================================================================
// Collect Tests
// =============================================================================

func TestCollect_ReturnsFinalSnapshot(t *testing.T) {
	body := "data: {\"token\":\"Hello\"}\n\ndata: {\"token\":\" world\"}\n\ndata: [DONE]\n\n"

	final, err := Collect(context.Background(), strings.NewReader(body), Options{})

	require.NoError(t, err)
	assert.True(t, final.Final)
	assert.Equal(t, "Hello world", final.Answer)
}

func TestCollect_TransportError(t *testing.T) {
	boom := errors.New("reset")

	final, err := Collect(context.Background(), &chunkReader{err: boom}, Options{})

	assert.ErrorIs(t, err, boom)
	assert.True(t, final.Final)
	assert.Equal(t, conversation.EmptyAnswerText, final.Answer)
}

func TestCollect_AnswerSurvivesMistypedSibling(t *testing.T) {
	body := `data: {"token":"X "}` + "\n\n" +
		`data: {"answer":"Final","chunks":[],"token":7}` + "\n\n" +
		"data: [DONE]\n\n"

	final, err := Collect(context.Background(), strings.NewReader(body), Options{})

	require.NoError(t, err)
	assert.Equal(t, "Final", final.Answer)
	assert.Empty(t, final.Passages)
}
