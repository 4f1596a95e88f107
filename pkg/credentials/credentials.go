// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package credentials supplies the bearer token attached to RAG requests.
//
// Tokens are obtained elsewhere (the web login flow or an operator) and
// only read here. Nothing in this package validates or refreshes them.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// EnvToken is the environment variable read by Env.
const EnvToken = "NEUROSTACK_TOKEN"

// ErrNoToken is returned when a provider has no token to give.
var ErrNoToken = errors.New("credentials: no bearer token available")

// Provider returns the current bearer token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// =============================================================================
// Simple Providers
// =============================================================================

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Env reads the token from NEUROSTACK_TOKEN on every call.
type Env struct{}

func (Env) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(os.Getenv(EnvToken))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Chain tries each provider in order and returns the first token found.
type Chain []Provider

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		tok, err := p.Token(ctx)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}

// =============================================================================
// File Provider
// =============================================================================

// File stores the token in a 0600 file, the CLI's equivalent of the web
// client's local token storage.
type File struct {
	Path string
}

func (f File) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Save writes token to the file, creating the parent directory.
func (f File) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(f.Path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Remove deletes the token file. A missing file is not an error.
func (f File) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// =============================================================================
// Sealed Provider
// =============================================================================

// Sealed resolves a token once from an inner provider and keeps it in a
// memguard enclave. The plaintext exists only for the duration of Token.
//
// # Thread Safety
//
// Safe for concurrent use.
type Sealed struct {
	inner   Provider
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// NewSealed wraps inner. Nothing is read until the first Token call.
func NewSealed(inner Provider) *Sealed {
	return &Sealed{inner: inner}
}

func (s *Sealed) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enclave == nil {
		tok, err := s.inner.Token(ctx)
		if err != nil {
			return "", err
		}
		s.enclave = memguard.NewEnclave([]byte(tok))
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open token enclave: %w", err)
	}
	defer buf.Destroy()
	// Copy out before Destroy wipes the backing memory.
	return string(buf.Bytes()), nil
}

// Forget drops the sealed token so the next call re-reads the inner provider.
func (s *Sealed) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}
