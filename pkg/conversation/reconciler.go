// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrNoIdentity is returned when a reconciler is opened without an identity.
	ErrNoIdentity = errors.New("conversation: identity is required")

	// ErrNoSettledReply is returned when feedback targets an empty exchange.
	ErrNoSettledReply = errors.New("conversation: no settled reply to rate")

	// ErrInvalidRating is returned for ratings other than good or bad.
	ErrInvalidRating = errors.New("conversation: rating must be good or bad")
)

// =============================================================================
// Interfaces
// =============================================================================

// Store persists one log per identity.
//
// # Description
//
// Store is the reconciler's view of the external key-value store. It is
// best-effort: implementations never return errors. Load yields an empty
// log when nothing is stored or the stored value fails to decode; Save and
// Clear swallow write failures after logging them.
type Store interface {
	Load(ctx context.Context, identity string) Log
	Save(ctx context.Context, identity string, log Log)
	Clear(ctx context.Context, identity string)
}

// Update is the accumulator's current view of one in-flight reply.
type Update struct {
	Text     string
	Passages []Passage
}

// Exchange is a user query paired with its settled reply.
type Exchange struct {
	Query  string
	Answer string
	Rating Rating
}

// =============================================================================
// Reconciler
// =============================================================================

// Reconciler merges streaming updates into the conversation log.
//
// # Description
//
// Each query moves through NotStarted → Pending → Settled. Submit opens the
// Pending state by appending a User message and a placeholder Bot reply.
// Apply overwrites the pending reply with the latest accumulated values,
// and settles it when isFinal is set. Abort settles it with OfflineText.
// The log is saved through the Store after every mutation.
//
// # Thread Safety
//
// There is exactly one mutating task per identity by construction. The
// mutex exists so a presentation goroutine can call Messages while the
// owning task applies updates.
type Reconciler struct {
	identity string
	store    Store
	logger   *slog.Logger
	log      Log
	mu       sync.Mutex
}

// NewReconciler loads the stored log for identity and returns a reconciler
// owning it.
//
// A reply left in progress by an earlier process has no stream behind it
// any more. Every such message, wherever it sits in the log, is settled
// on load with its partial text, or EmptyAnswerText
// if it never got past the placeholder, so the log never shows a reply
// that stays in progress forever.
func NewReconciler(ctx context.Context, identity string, store Store, logger *slog.Logger) (*Reconciler, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reconciler{
		identity: identity,
		store:    store,
		logger:   logger,
		log:      store.Load(ctx, identity),
	}

	settled := 0
	for i := range r.log {
		if !r.log[i].InProgress {
			continue
		}
		text := r.log[i].Text
		if text == "" || text == PlaceholderText {
			text = EmptyAnswerText
		}
		r.settle(i, text)
		settled++
		logger.Info("settled stale in-progress reply from stored log",
			"identity", identity,
			"index", i,
		)
	}
	if settled > 0 {
		r.store.Save(ctx, r.identity, r.log)
	}

	return r, nil
}

// Identity returns the identity whose log this reconciler owns.
func (r *Reconciler) Identity() string {
	return r.identity
}

// Messages returns a copy of the current log.
func (r *Reconciler) Messages() Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Clone()
}

// Submit opens a pending exchange for query.
//
// If the most recent exchange is the identical query and its reply is
// still pending, nothing is appended and reused is true; later Apply
// calls update that reply in place. Otherwise a User message and a
// placeholder Bot reply are appended. A pending reply to a different
// query is settled first so the single in-progress invariant holds even
// if a caller skips its own busy check.
func (r *Reconciler) Submit(ctx context.Context, query string) (reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isPendingQuery(query) {
		return true
	}

	if i := r.log.Pending(); i >= 0 {
		r.logger.Warn("settling pending reply before new submission",
			"identity", r.identity,
			"index", i,
		)
		text := r.log[i].Text
		if text == PlaceholderText {
			text = OfflineText
		}
		r.settle(i, text)
	}

	bot := newMessage(RoleBot, PlaceholderText)
	bot.InProgress = true
	r.log = append(r.log, newMessage(RoleUser, query), bot)

	r.store.Save(ctx, r.identity, r.log)
	return false
}

// Apply writes u into the pending reply and settles it when isFinal.
//
// An empty non-final Text keeps the current text, so the placeholder stays
// visible while only passages have arrived. Passages are always replaced.
// Returns false and leaves the log untouched when nothing is pending.
func (r *Reconciler) Apply(ctx context.Context, u Update, isFinal bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.log.Pending()
	if i < 0 {
		return false
	}

	m := &r.log[i]
	switch {
	case u.Text != "":
		m.Text = u.Text
	case isFinal:
		m.Text = EmptyAnswerText
	}
	m.Passages = clonePassages(u.Passages)
	if isFinal {
		m.InProgress = false
	}

	r.store.Save(ctx, r.identity, r.log)
	return true
}

// Abort settles the pending reply with OfflineText and no passages.
//
// reason is logged only. Returns false when nothing is pending.
func (r *Reconciler) Abort(ctx context.Context, reason error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.log.Pending()
	if i < 0 {
		return false
	}

	r.settle(i, OfflineText)
	r.store.Save(ctx, r.identity, r.log)

	r.logger.Warn("pending reply aborted",
		"identity", r.identity,
		"reason", errString(reason),
	)
	return true
}

// Clear removes every message and deletes the persisted entry.
func (r *Reconciler) Clear(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log = nil
	r.store.Clear(ctx, r.identity)
}

// RecordFeedback stores rating on the most recent settled reply and
// returns the rated exchange.
func (r *Reconciler) RecordFeedback(ctx context.Context, rating Rating) (Exchange, error) {
	if !rating.Valid() {
		return Exchange{}, ErrInvalidRating
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.log.LastSettledReply()
	if i < 0 {
		return Exchange{}, ErrNoSettledReply
	}

	r.log[i].Feedback = rating
	r.store.Save(ctx, r.identity, r.log)

	return Exchange{
		Query:  r.log[i-1].Text,
		Answer: r.log[i].Text,
		Rating: rating,
	}, nil
}

func (r *Reconciler) isPendingQuery(query string) bool {
	n := len(r.log)
	if n < 2 {
		return false
	}
	reply, prompt := r.log[n-1], r.log[n-2]
	return reply.Role == RoleBot && reply.InProgress &&
		prompt.Role == RoleUser && prompt.Text == query
}

// settle must be called with mu held (or before r is shared).
func (r *Reconciler) settle(i int, text string) {
	r.log[i].Text = text
	r.log[i].InProgress = false
	if text == OfflineText {
		r.log[i].Passages = nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
