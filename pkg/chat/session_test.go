// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
	"github.com/Saadajee/neurostack-copilot/pkg/ragclient"
	"github.com/Saadajee/neurostack-copilot/pkg/sessionstore"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeTransport serves a canned stream per query.
type fakeTransport struct {
	mu          sync.Mutex
	open        func(ctx context.Context, query string) (io.ReadCloser, error)
	queries     []string
	counted     atomic.Int32
	counterErr  error
	feedback    []ragclient.Feedback
	feedbackErr error
}

func (f *fakeTransport) Query(ctx context.Context, _ string, query string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.open(ctx, query)
}

func (f *fakeTransport) IncrementQueryCount(context.Context) error {
	f.counted.Add(1)
	return f.counterErr
}

func (f *fakeTransport) SubmitFeedback(_ context.Context, fb ragclient.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, fb)
	return f.feedbackErr
}

func streamOf(body string) func(context.Context, string) (io.ReadCloser, error) {
	return func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

// errReader yields data once and then fails.
type errReader struct {
	data string
	err  error
}

func (e *errReader) Read(p []byte) (int, error) {
	if e.data == "" {
		return 0, e.err
	}
	n := copy(p, e.data)
	e.data = e.data[n:]
	return n, nil
}

func newTestSession(t *testing.T, tr *fakeTransport, store conversation.Store) *Session {
	t.Helper()
	if store == nil {
		store = sessionstore.NewAdapter(sessionstore.NewMemoryKV(), nil)
	}
	s, err := NewSession(context.Background(), Config{
		Identity:  "a@x",
		Store:     store,
		Transport: tr,
	})
	require.NoError(t, err)
	return s
}

func lastReply(t *testing.T, s *Session) conversation.Message {
	t.Helper()
	m, ok := s.Messages().Last()
	require.True(t, ok)
	require.Equal(t, conversation.RoleBot, m.Role)
	return m
}

func drain(s *Session) []LogUpdate {
	var out []LogUpdate
	for {
		select {
		case u := <-s.Updates():
			out = append(out, u)
		default:
			return out
		}
	}
}

// =============================================================================
// Scenario Tests
// =============================================================================

func TestSubmit_SimpleQuery(t *testing.T) {
	tr := &fakeTransport{open: streamOf(
		"data: {\"token\":\"X \"}\n\n" +
			"data: {\"token\":\"is Y\"}\n\n" +
			"data: [DONE]\n\n",
	)}
	s := newTestSession(t, tr, nil)

	require.NoError(t, s.Submit(context.Background(), "What is X?"))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "What is X?", msgs[0].Text)
	assert.Equal(t, "X is Y", msgs[1].Text)
	assert.False(t, msgs[1].InProgress)
	assert.False(t, s.Busy())

	updates := drain(s)
	require.NotEmpty(t, updates)
	assert.Equal(t, conversation.PlaceholderText, updates[0].Messages[1].Text)
	assert.True(t, updates[0].Messages[1].InProgress)
	final := updates[len(updates)-1]
	assert.True(t, final.Final)
	assert.Equal(t, "X is Y", final.Messages[1].Text)
	for _, u := range updates {
		assert.Equal(t, updates[0].RequestID, u.RequestID)
	}
}

func TestSubmit_ChunksThenAnswer(t *testing.T) {
	tr := &fakeTransport{open: streamOf(
		`data: {"chunks":[{"question":"q1","answer":"a1","score":0.87}]}` + "\n\n" +
			`data: {"answer":"Final text"}` + "\n\n" +
			"data: [DONE]\n\n",
	)}
	s := newTestSession(t, tr, nil)

	require.NoError(t, s.Submit(context.Background(), "q"))

	reply := lastReply(t, s)
	assert.Equal(t, "Final text", reply.Text)
	require.Len(t, reply.Passages, 1)
	assert.Equal(t, 87.0, reply.Passages[0].Relevance())
}

func TestSubmit_TransportFailsBeforeAnyFrame(t *testing.T) {
	tests := []struct {
		name string
		open func(context.Context, string) (io.ReadCloser, error)
	}{
		{
			name: "connection refused",
			open: func(context.Context, string) (io.ReadCloser, error) {
				return nil, errors.New("dial tcp 127.0.0.1:8000: connection refused")
			},
		},
		{
			name: "non-success status",
			open: func(context.Context, string) (io.ReadCloser, error) {
				return nil, &ragclient.StatusError{StatusCode: 502, Body: "bad gateway"}
			},
		},
		{
			name: "stream dies before first frame",
			open: func(context.Context, string) (io.ReadCloser, error) {
				return io.NopCloser(&errReader{err: errors.New("connection reset")}), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, &fakeTransport{open: tt.open}, nil)

			require.NoError(t, s.Submit(context.Background(), "q"))

			reply := lastReply(t, s)
			assert.Equal(t, conversation.OfflineText, reply.Text)
			assert.False(t, reply.InProgress)
		})
	}
}

func TestSubmit_TransportFailsMidStream(t *testing.T) {
	tr := &fakeTransport{open: func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(&errReader{
			data: "data: {\"token\":\"partial \"}\n\n",
			err:  errors.New("unexpected EOF"),
		}), nil
	}}
	s := newTestSession(t, tr, nil)

	require.NoError(t, s.Submit(context.Background(), "q"))

	reply := lastReply(t, s)
	assert.Equal(t, "partial ", reply.Text)
	assert.False(t, reply.InProgress)
}

func TestSubmit_MalformedLineIgnored(t *testing.T) {
	tr := &fakeTransport{open: streamOf(
		"data: {\"token\":\"Hello \"}\n\n" +
			"data: {not json\n\n" +
			"data: {\"token\":\"world\"}\n\n" +
			"data: [DONE]\n\n",
	)}
	s := newTestSession(t, tr, nil)

	require.NoError(t, s.Submit(context.Background(), "q"))

	assert.Equal(t, "Hello world", lastReply(t, s).Text)
}

func TestSubmit_EmptyStreamSettlesWithDone(t *testing.T) {
	s := newTestSession(t, &fakeTransport{open: streamOf("")}, nil)

	require.NoError(t, s.Submit(context.Background(), "q"))

	reply := lastReply(t, s)
	assert.Equal(t, conversation.EmptyAnswerText, reply.Text)
	assert.False(t, reply.InProgress)
}

// =============================================================================
// Control Flow Tests
// =============================================================================

func TestSubmit_RejectsBlankQuery(t *testing.T) {
	tr := &fakeTransport{open: streamOf("")}
	s := newTestSession(t, tr, nil)

	assert.ErrorIs(t, s.Submit(context.Background(), "   \n\t"), ErrEmptyQuery)
	assert.Empty(t, s.Messages())
	assert.Empty(t, tr.queries)
}

func TestSubmit_TrimsQuery(t *testing.T) {
	tr := &fakeTransport{open: streamOf("data: [DONE]\n")}
	s := newTestSession(t, tr, nil)

	require.NoError(t, s.Submit(context.Background(), "  What is X?  "))

	assert.Equal(t, []string{"What is X?"}, tr.queries)
	assert.Equal(t, "What is X?", s.Messages()[0].Text)
}

func TestSubmit_BusyWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	tr := &fakeTransport{open: func(context.Context, string) (io.ReadCloser, error) {
		close(started)
		<-release
		return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
	}}
	s := newTestSession(t, tr, nil)

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background(), "first") }()
	<-started

	assert.True(t, s.Busy())
	assert.ErrorIs(t, s.Submit(context.Background(), "second"), ErrBusy)
	assert.ErrorIs(t, s.Clear(context.Background()), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Busy())
	assert.Len(t, s.Messages(), 2)
}

func TestSubmit_CancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransport{open: func(reqCtx context.Context, _ string) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = pw.Write([]byte("data: {\"token\":\"half\"}\n\n"))
			<-reqCtx.Done()
			pw.CloseWithError(reqCtx.Err())
		}()
		return pr, nil
	}}
	store := sessionstore.NewAdapter(sessionstore.NewMemoryKV(), nil)
	s := newTestSession(t, tr, store)

	done := make(chan error, 1)
	go func() { done <- s.Submit(ctx, "q") }()

	require.Eventually(t, func() bool {
		m, ok := s.Messages().Last()
		return ok && m.Text == "half"
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after cancellation")
	}

	reply := lastReply(t, s)
	assert.Equal(t, conversation.OfflineText, reply.Text)
	assert.False(t, reply.InProgress)

	persisted := store.Load(context.Background(), "a@x")
	assert.Equal(t, s.Messages(), persisted)
}

func TestSubmit_ResubmitSettledQueryAppends(t *testing.T) {
	tr := &fakeTransport{open: streamOf("data: {\"answer\":\"A\"}\n\ndata: [DONE]\n\n")}
	s := newTestSession(t, tr, nil)

	require.NoError(t, s.Submit(context.Background(), "Q"))
	require.NoError(t, s.Submit(context.Background(), "Q"))

	assert.Len(t, s.Messages(), 4)
}

func TestSubmit_CounterFiredAndIgnored(t *testing.T) {
	tr := &fakeTransport{
		open:       streamOf("data: {\"token\":\"ok\"}\n\ndata: [DONE]\n\n"),
		counterErr: errors.New("counter down"),
	}
	s := newTestSession(t, tr, nil)

	require.NoError(t, s.Submit(context.Background(), "q"))

	assert.Eventually(t, func() bool { return tr.counted.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ok", lastReply(t, s).Text)
}

func TestSubmit_PersistsAfterSettle(t *testing.T) {
	store := sessionstore.NewAdapter(sessionstore.NewMemoryKV(), nil)
	tr := &fakeTransport{open: streamOf("data: {\"token\":\"saved\"}\n\ndata: [DONE]\n\n")}
	s := newTestSession(t, tr, store)

	require.NoError(t, s.Submit(context.Background(), "q"))

	reopened := newTestSession(t, tr, store)
	assert.Equal(t, s.Messages(), reopened.Messages())
}

func TestUpdates_DropOldestWhenFull(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 50; i++ {
		body.WriteString("data: {\"token\":\"x\"}\n\n")
	}
	body.WriteString("data: [DONE]\n\n")

	s, err := NewSession(context.Background(), Config{
		Identity:     "a@x",
		Store:        sessionstore.NewAdapter(sessionstore.NewMemoryKV(), nil),
		Transport:    &fakeTransport{open: streamOf(body.String())},
		UpdateBuffer: 2,
	})
	require.NoError(t, err)

	require.NoError(t, s.Submit(context.Background(), "q"))

	updates := drain(s)
	require.NotEmpty(t, updates)
	assert.LessOrEqual(t, len(updates), 2)
	last := updates[len(updates)-1]
	assert.True(t, last.Final)
	assert.Equal(t, strings.Repeat("x", 50), last.Messages[1].Text)
}

// =============================================================================
// Clear and Feedback Tests
// =============================================================================

func TestClear(t *testing.T) {
	store := sessionstore.NewAdapter(sessionstore.NewMemoryKV(), nil)
	s := newTestSession(t, &fakeTransport{open: streamOf("data: [DONE]\n")}, store)
	require.NoError(t, s.Submit(context.Background(), "q"))

	require.NoError(t, s.Clear(context.Background()))

	assert.Empty(t, s.Messages())
	assert.Empty(t, store.Load(context.Background(), "a@x"))
}

// blockingClearStore parks Clear until release is closed.
type blockingClearStore struct {
	conversation.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingClearStore) Clear(ctx context.Context, identity string) {
	close(b.entered)
	<-b.release
	b.Store.Clear(ctx, identity)
}

func TestClear_HoldsBusyFlag(t *testing.T) {
	store := &blockingClearStore{
		Store:   sessionstore.NewAdapter(sessionstore.NewMemoryKV(), nil),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	tr := &fakeTransport{open: streamOf("data: {\"token\":\"A\"}\n\ndata: [DONE]\n")}
	s := newTestSession(t, tr, store)

	done := make(chan error, 1)
	go func() { done <- s.Clear(context.Background()) }()
	<-store.entered

	assert.True(t, s.Busy())
	assert.ErrorIs(t, s.Submit(context.Background(), "q"), ErrBusy)
	assert.ErrorIs(t, s.Clear(context.Background()), ErrBusy)

	close(store.release)
	require.NoError(t, <-done)
	assert.False(t, s.Busy())

	require.NoError(t, s.Submit(context.Background(), "q"))
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, []string{"q"}, tr.queries)
}

func TestRecordFeedback(t *testing.T) {
	tr := &fakeTransport{
		open:        streamOf("data: {\"answer\":\"X is Y\"}\n\ndata: [DONE]\n\n"),
		feedbackErr: errors.New("service down"),
	}
	s := newTestSession(t, tr, nil)
	require.NoError(t, s.Submit(context.Background(), "What is X?"))

	ex, err := s.RecordFeedback(context.Background(), conversation.RatingBad)

	require.NoError(t, err, "delivery failure is not surfaced")
	assert.Equal(t, "What is X?", ex.Query)
	assert.Equal(t, conversation.RatingBad, lastReply(t, s).Feedback)
	require.Len(t, tr.feedback, 1)
	assert.Equal(t, ragclient.Feedback{Query: "What is X?", Answer: "X is Y", Rating: conversation.RatingBad}, tr.feedback[0])
}

func TestRecordFeedback_NothingToRate(t *testing.T) {
	tr := &fakeTransport{open: streamOf("")}
	s := newTestSession(t, tr, nil)

	_, err := s.RecordFeedback(context.Background(), conversation.RatingGood)

	assert.ErrorIs(t, err, conversation.ErrNoSettledReply)
	assert.Empty(t, tr.feedback)
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(context.Background(), Config{Identity: "a@x"})
	assert.Error(t, err)

	_, err = NewSession(context.Background(), Config{
		Store:     sessionstore.NewAdapter(sessionstore.NewMemoryKV(), nil),
		Transport: &fakeTransport{},
	})
	assert.ErrorIs(t, err, conversation.ErrNoIdentity)
}
