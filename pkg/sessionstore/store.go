// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sessionstore persists conversation logs in a key-value store.
//
// The chat layer only sees conversation.Store, which never fails. The
// Adapter in this package maps that interface onto a KV backend and turns
// backend failures into log lines and metrics:
//
//	conversation.Reconciler → Adapter → KV (badger | redis | sqlite | memory)
//
// Each identity owns exactly one key, KeyPrefix + identity. The value is
// the JSON-encoded log.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
)

// KeyPrefix is prepended to the identity to form the storage key.
const KeyPrefix = "messages_"

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

var (
	// ErrNotFound is returned by KV.Get for a missing key.
	ErrNotFound = errors.New("sessionstore: key not found")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("sessionstore: unknown backend")
)

var storeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "copilot_store_ops_total",
	Help: "Session store operations by op and result",
}, []string{"op", "result"})

// KV is the minimal byte-oriented store the Adapter needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of badger, redis, sqlite or memory.
	Backend string

	// Path is the badger directory or the sqlite database file.
	Path string

	// RedisURL is a redis:// URL, used by the redis backend.
	RedisURL string

	// Logger receives backend diagnostics.
	Logger *slog.Logger
}

// Open creates the KV backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (KV, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendBadger:
		bc := DefaultBadgerConfig()
		bc.Path = cfg.Path
		bc.Logger = cfg.Logger
		return OpenBadger(bc)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisURL)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case BackendMemory, "":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// =============================================================================
// Adapter
// =============================================================================

// Adapter implements conversation.Store over a KV.
//
// # Description
//
// Load decodes the stored JSON log. A missing key, a backend error or a
// value that fails to decode all yield an empty log; the conversation then
// starts fresh rather than failing. Save and Clear log failures and carry
// on. The in-memory log stays authoritative for the running process.
//
// # Thread Safety
//
// Safe for concurrent use if the KV is.
type Adapter struct {
	kv     KV
	logger *slog.Logger
}

var _ conversation.Store = (*Adapter)(nil)

// NewAdapter wraps kv. A nil logger uses slog.Default().
func NewAdapter(kv KV, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{kv: kv, logger: logger.With("component", "sessionstore")}
}

// Key returns the storage key for identity.
func Key(identity string) string {
	return KeyPrefix + identity
}

// Load returns the stored log for identity, or an empty log.
func (a *Adapter) Load(ctx context.Context, identity string) conversation.Log {
	raw, err := a.kv.Get(ctx, Key(identity))
	if errors.Is(err, ErrNotFound) {
		storeOpsTotal.WithLabelValues("load", "miss").Inc()
		return nil
	}
	if err != nil {
		storeOpsTotal.WithLabelValues("load", "error").Inc()
		a.logger.Warn("load conversation failed", "identity", identity, "error", err)
		return nil
	}

	var log conversation.Log
	if err := json.Unmarshal(raw, &log); err != nil {
		storeOpsTotal.WithLabelValues("load", "corrupt").Inc()
		a.logger.Warn("stored conversation is not valid JSON, starting empty",
			"identity", identity,
			"bytes", len(raw),
			"error", err,
		)
		return nil
	}

	storeOpsTotal.WithLabelValues("load", "ok").Inc()
	return log
}

// Save writes the whole log for identity.
func (a *Adapter) Save(ctx context.Context, identity string, log conversation.Log) {
	raw, err := json.Marshal(log)
	if err != nil {
		storeOpsTotal.WithLabelValues("save", "error").Inc()
		a.logger.Error("encode conversation failed", "identity", identity, "error", err)
		return
	}
	if err := a.kv.Set(ctx, Key(identity), raw); err != nil {
		storeOpsTotal.WithLabelValues("save", "error").Inc()
		a.logger.Warn("save conversation failed", "identity", identity, "error", err)
		return
	}
	storeOpsTotal.WithLabelValues("save", "ok").Inc()
}

// Clear deletes the stored log for identity.
func (a *Adapter) Clear(ctx context.Context, identity string) {
	if err := a.kv.Delete(ctx, Key(identity)); err != nil {
		storeOpsTotal.WithLabelValues("clear", "error").Inc()
		a.logger.Warn("clear conversation failed", "identity", identity, "error", err)
		return
	}
	storeOpsTotal.WithLabelValues("clear", "ok").Inc()
}

// Close closes the underlying KV.
func (a *Adapter) Close() error {
	return a.kv.Close()
}
