// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sessionstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
)

// =============================================================================
// Test Helpers
// =============================================================================

type failingKV struct {
	err error
}

func (f failingKV) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingKV) Set(context.Context, string, []byte) error   { return f.err }
func (f failingKV) Delete(context.Context, string) error        { return f.err }
func (f failingKV) Close() error                                { return nil }

func sampleLog() conversation.Log {
	return conversation.Log{
		{ID: "u1", Role: conversation.RoleUser, Text: "What is X?", CreatedAt: 1},
		{
			ID:   "b1",
			Role: conversation.RoleBot,
			Text: "X is Y",
			Passages: []conversation.Passage{
				{Question: "q1", Answer: "a1", Score: 0.8712345678},
				{Question: "q2", Answer: "a2", Score: 0.1},
			},
			Feedback:  conversation.RatingGood,
			CreatedAt: 2,
		},
	}
}

// kvContract runs the behaviour every backend must share.
func kvContract(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("v1")))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, kv.Set(ctx, "k", []byte("v2")))
	got, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Delete(ctx, "never-set"))

	adapter := NewAdapter(kv, nil)
	adapter.Save(ctx, "a@x", sampleLog())
	assert.Equal(t, sampleLog(), adapter.Load(ctx, "a@x"))
	assert.Nil(t, adapter.Load(ctx, "b@x"), "identities are isolated")

	adapter.Clear(ctx, "a@x")
	assert.Nil(t, adapter.Load(ctx, "a@x"))
}

// =============================================================================
// Adapter Tests
// =============================================================================

func TestAdapter_RoundTripPreservesScores(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewMemoryKV(), nil)

	a.Save(ctx, "a@x", sampleLog())
	got := a.Load(ctx, "a@x")

	require.Len(t, got, 2)
	assert.Equal(t, 0.8712345678, got[1].Passages[0].Score)
	assert.Equal(t, sampleLog(), got)
}

func TestAdapter_UsesPrefixedKey(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	a := NewAdapter(kv, nil)

	a.Save(ctx, "a@x", sampleLog())

	raw, err := kv.Get(ctx, "messages_a@x")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"isStreaming"`)
	assert.Contains(t, string(raw), `"type":"user"`)
}

func TestAdapter_CorruptValueYieldsEmptyLog(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, Key("a@x"), []byte("{not json")))

	assert.Nil(t, NewAdapter(kv, nil).Load(ctx, "a@x"))
}

func TestAdapter_BackendErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(failingKV{err: errors.New("disk full")}, nil)

	assert.NotPanics(t, func() {
		a.Save(ctx, "a@x", sampleLog())
		a.Clear(ctx, "a@x")
	})
	assert.Nil(t, a.Load(ctx, "a@x"))
}

func TestAdapter_WithReconciler(t *testing.T) {
	ctx := context.Background()
	store := NewAdapter(NewMemoryKV(), nil)

	r, err := conversation.NewReconciler(ctx, "a@x", store, nil)
	require.NoError(t, err)
	r.Submit(ctx, "Q")
	r.Apply(ctx, conversation.Update{Text: "A"}, true)

	reopened, err := conversation.NewReconciler(ctx, "a@x", store, nil)
	require.NoError(t, err)
	assert.Equal(t, r.Messages(), reopened.Messages())
}

// =============================================================================
// Backend Tests
// =============================================================================

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()
	kvContract(t, kv)
}

func TestMemoryKV_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	value := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestBadgerKV_InMemory(t *testing.T) {
	kv, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer kv.Close()
	kvContract(t, kv)
}

func TestBadgerKV_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultBadgerConfig()
	cfg.Path = filepath.Join(t.TempDir(), "badger")
	cfg.GCInterval = 0

	kv, err := OpenBadger(cfg)
	require.NoError(t, err)
	NewAdapter(kv, nil).Save(ctx, "a@x", sampleLog())
	require.NoError(t, kv.Close())
	require.NoError(t, kv.Close(), "close is idempotent")

	kv, err = OpenBadger(cfg)
	require.NoError(t, err)
	defer kv.Close()
	assert.Equal(t, sampleLog(), NewAdapter(kv, nil).Load(ctx, "a@x"))
}

func TestBadgerKV_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestSQLiteKV(t *testing.T) {
	kv, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "copilot.db"))
	require.NoError(t, err)
	defer kv.Close()
	kvContract(t, kv)
}

func TestRedisKV(t *testing.T) {
	url := os.Getenv("NEUROSTACK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NEUROSTACK_TEST_REDIS_URL not set")
	}
	kv, err := OpenRedis(context.Background(), url)
	require.NoError(t, err)
	defer kv.Close()
	kvContract(t, kv)
}

func TestOpenRedis_InvalidURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-url")
	assert.Error(t, err)

	_, err = OpenRedis(context.Background(), "")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryKV{}, kv)

	kv, err = Open(ctx, Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteKV{}, kv)
	require.NoError(t, kv.Close())

	kv, err = Open(ctx, Config{Backend: "BADGER", Path: filepath.Join(t.TempDir(), "b")})
	require.NoError(t, err)
	assert.IsType(t, &BadgerKV{}, kv)
	require.NoError(t, kv.Close())

	_, err = Open(ctx, Config{Backend: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
