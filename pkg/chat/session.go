// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat runs queries for one identity end to end.
//
// # Architecture
//
// A Submit call is the single owning task of its query:
//
//	Submit ─┬─ Reconciler.Submit (User + placeholder Bot)
//	        ├─ counter side channel (own goroutine, result ignored)
//	        ├─ Transport.Query → body
//	        └─ errgroup ─┬─ stream.Pump(body) → snapshots
//	                     └─ consumer: Reconciler.Apply / Abort → LogUpdate
//
// Every mutation publishes a LogUpdate carrying a full copy of the log, so
// a presentation layer can redraw from any single update.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
	"github.com/Saadajee/neurostack-copilot/pkg/ragclient"
	"github.com/Saadajee/neurostack-copilot/pkg/stream"
)

var (
	// ErrBusy is returned when a query is already in flight.
	ErrBusy = errors.New("chat: a query is already in progress")

	// ErrEmptyQuery is returned for blank input.
	ErrEmptyQuery = errors.New("chat: query is empty")
)

// Query outcomes used as metric labels.
const (
	outcomeSettled = "settled"
	outcomeAborted = "aborted"
)

const (
	defaultUpdateBuffer   = 64
	defaultCounterTimeout = 5 * time.Second
)

var (
	tracer = otel.Tracer("neurostack.chat")

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_queries_total",
		Help: "Submitted queries by how their reply settled",
	}, []string{"outcome"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "copilot_query_duration_seconds",
		Help:    "Time from submit to settled reply",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	})
)

// Transport is the part of the RAG client a Session uses.
type Transport interface {
	Query(ctx context.Context, requestID, query string) (io.ReadCloser, error)
	IncrementQueryCount(ctx context.Context) error
	SubmitFeedback(ctx context.Context, fb ragclient.Feedback) error
}

var _ Transport = (*ragclient.Client)(nil)

// LogUpdate is published after every change to the log.
type LogUpdate struct {
	// RequestID identifies the query that caused the change. Empty for
	// changes not tied to a query, such as Clear.
	RequestID string

	// Messages is a copy of the whole log.
	Messages conversation.Log

	// Final is set on the update that settles a reply.
	Final bool
}

// Config configures a Session.
type Config struct {
	// Identity scopes the log. Required.
	Identity string

	// Store persists the log. Required.
	Store conversation.Store

	// Transport reaches the RAG service. Required.
	Transport Transport

	// Logger for diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// UpdateBuffer is the capacity of the Updates channel. Default: 64.
	UpdateBuffer int

	// CounterTimeout bounds the side-channel counter call. Default: 5s.
	CounterTimeout time.Duration

	// Stream tunes the decoder.
	Stream stream.Options
}

// Session owns the conversation of one identity.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Submit serializes queries with
// a busy flag: a second Submit while one runs returns ErrBusy.
type Session struct {
	recon          *conversation.Reconciler
	transport      Transport
	logger         *slog.Logger
	updates        chan LogUpdate
	busy           atomic.Bool
	counterTimeout time.Duration
	streamOpts     stream.Options
}

// NewSession loads the identity's log and returns a ready session.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Store == nil || cfg.Transport == nil {
		return nil, errors.New("chat: store and transport are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("identity", cfg.Identity)

	recon, err := conversation.NewReconciler(ctx, cfg.Identity, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	buf := cfg.UpdateBuffer
	if buf <= 0 {
		buf = defaultUpdateBuffer
	}
	counterTimeout := cfg.CounterTimeout
	if counterTimeout <= 0 {
		counterTimeout = defaultCounterTimeout
	}

	return &Session{
		recon:          recon,
		transport:      cfg.Transport,
		logger:         logger,
		updates:        make(chan LogUpdate, buf),
		counterTimeout: counterTimeout,
		streamOpts:     cfg.Stream,
	}, nil
}

// Identity returns the identity this session belongs to.
func (s *Session) Identity() string {
	return s.recon.Identity()
}

// Messages returns a copy of the current log.
func (s *Session) Messages() conversation.Log {
	return s.recon.Messages()
}

// Busy reports whether a query is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Updates returns the channel of log changes. It is never closed. When the
// buffer is full the oldest pending update is dropped; each update carries
// the whole log, so only intermediate frames are lost.
func (s *Session) Updates() <-chan LogUpdate {
	return s.updates
}

// Submit runs one query to completion.
//
// # Description
//
// query is trimmed; a blank query returns ErrEmptyQuery without touching
// the log. Otherwise a pending exchange is opened, the response stream is
// applied to it in decode order, and the reply is settled before Submit
// returns. Submit blocks until then.
//
// # Outputs
//
//   - error: ErrEmptyQuery or ErrBusy only. Transport failures, server
//     errors and cancellation settle the reply with the offline text and
//     return nil.
//
// # Cancellation
//
// Cancelling ctx tears down the request. The reply is still settled and
// persisted, using a context detached from ctx.
func (s *Session) Submit(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	requestID := uuid.New().String()
	start := time.Now()
	logger := s.logger.With("request_id", requestID)

	ctx, span := tracer.Start(ctx, "chat.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	// Persistence must outlive a cancelled request.
	persistCtx := context.WithoutCancel(ctx)

	reused := s.recon.Submit(persistCtx, query)
	span.SetAttributes(attribute.Bool("chat.reused", reused))
	s.publish(LogUpdate{RequestID: requestID, Messages: s.recon.Messages()})
	logger.Debug("query submitted", "reused", reused, "query_length", len(query))

	go s.countQuery(persistCtx, requestID)

	outcome := s.run(ctx, persistCtx, requestID, query, logger)

	queriesTotal.WithLabelValues(outcome).Inc()
	queryDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("chat.outcome", outcome))
	logger.Info("query finished",
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// run streams the reply and guarantees it is settled on return.
func (s *Session) run(ctx, persistCtx context.Context, requestID, query string, logger *slog.Logger) string {
	body, err := s.transport.Query(ctx, requestID, query)
	if err != nil {
		s.abort(persistCtx, requestID, err)
		return outcomeAborted
	}
	defer body.Close()

	opts := s.streamOpts
	opts.Logger = logger
	opts.RequestID = requestID

	snaps := make(chan stream.Snapshot)
	outcome := ""

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(snaps)
		return stream.Pump(gctx, body, snaps, opts)
	})
	g.Go(func() error {
		for snap := range snaps {
			if !snap.Final {
				s.recon.Apply(persistCtx, snap.Update(), false)
				s.publish(LogUpdate{RequestID: requestID, Messages: s.recon.Messages()})
				continue
			}
			// A stream that failed before any event counts as offline.
			if snap.Err != nil && !snap.Received {
				s.abort(persistCtx, requestID, snap.Err)
				outcome = outcomeAborted
				continue
			}
			s.recon.Apply(persistCtx, snap.Update(), true)
			s.publish(LogUpdate{RequestID: requestID, Messages: s.recon.Messages(), Final: true})
			outcome = outcomeSettled
		}
		return nil
	})

	err = g.Wait()
	if outcome != "" {
		return outcome
	}

	// Cancelled before a final snapshot was produced.
	if err == nil {
		err = ctx.Err()
	}
	s.abort(persistCtx, requestID, err)
	return outcomeAborted
}

func (s *Session) abort(ctx context.Context, requestID string, reason error) {
	s.recon.Abort(ctx, reason)
	s.publish(LogUpdate{RequestID: requestID, Messages: s.recon.Messages(), Final: true})
}

// countQuery fires the counter side channel. Its result never reaches
// the user.
func (s *Session) countQuery(ctx context.Context, requestID string) {
	ctx, cancel := context.WithTimeout(ctx, s.counterTimeout)
	defer cancel()
	if err := s.transport.IncrementQueryCount(ctx); err != nil {
		s.logger.Debug("query counter increment failed",
			"request_id", requestID,
			"error", err,
		)
	}
}

// Clear removes every message and the persisted entry. It holds the busy
// flag while it runs, so no query can start against a log being wiped.
func (s *Session) Clear(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)
	s.recon.Clear(ctx)
	s.publish(LogUpdate{Messages: s.recon.Messages(), Final: true})
	return nil
}

// RecordFeedback rates the most recent settled reply.
//
// The rating is stored in the log first, then sent to the service. A
// failed send is logged and otherwise ignored.
func (s *Session) RecordFeedback(ctx context.Context, rating conversation.Rating) (conversation.Exchange, error) {
	ex, err := s.recon.RecordFeedback(ctx, rating)
	if err != nil {
		return conversation.Exchange{}, err
	}
	s.publish(LogUpdate{Messages: s.recon.Messages(), Final: true})

	err = s.transport.SubmitFeedback(ctx, ragclient.Feedback{
		Query:  ex.Query,
		Answer: ex.Answer,
		Rating: rating,
	})
	if err != nil {
		s.logger.Warn("feedback not delivered", "rating", string(rating), "error", err)
	}
	return ex, nil
}

// publish never blocks. When the buffer is full the oldest update is
// discarded to make room.
func (s *Session) publish(u LogUpdate) {
	for {
		select {
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
