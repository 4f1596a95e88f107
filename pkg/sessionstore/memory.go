// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sessionstore

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// MemoryKV keeps values in process memory. Nothing survives a restart.
type MemoryKV struct {
	cache *cache.Cache
}

var _ KV = (*MemoryKV)(nil)

// NewMemoryKV returns an empty store whose entries never expire.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{cache: cache.New(cache.NoExpiration, 0)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	x, found := m.cache.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	// Copy so callers cannot mutate the stored bytes.
	src := x.([]byte)
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.cache.Set(key, stored, cache.NoExpiration)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *MemoryKV) Close() error {
	m.cache.Flush()
	return nil
}
