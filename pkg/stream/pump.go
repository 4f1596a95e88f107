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
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	// eventsTotal counts decoded events by kind
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_stream_events_total",
		Help: "Stream events decoded by kind",
	}, []string{"kind"})

	// streamsTotal counts finished streams by how they ended
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_streams_total",
		Help: "Finished response streams by outcome",
	}, []string{"outcome"})
)

// Stream outcomes used as metric labels.
const (
	OutcomeDone      = "done"
	OutcomeClosed    = "closed"
	OutcomeTransport = "transport_error"
	OutcomeCancelled = "cancelled"
)

// Options tunes a Pump.
type Options struct {
	// Logger receives debug output. Default: slog.Default().
	Logger *slog.Logger

	// RequestID is attached to every log line.
	RequestID string

	// ChunkBytes is the read size. Default: 4096.
	ChunkBytes int

	// MaxLineBytes bounds a single line. Default: DefaultMaxLineBytes.
	MaxLineBytes int
}

// Pump owns the decoder, parser and accumulator for one query.
//
// # Description
//
// Pump reads r until the stream completes and sends Snapshots to out in
// the order events were decoded. Every Token, Chunks or FinalAnswer event
// produces one non-final snapshot. Exactly one final snapshot is sent when
// the stream completes:
//
//   - "data: [DONE]": Finalize, Terminated=true. Bytes after it are not read.
//   - Clean connection close: Finalize, Terminated=false.
//   - Transport error: Finalize with Err set; Pump then returns the error.
//
// Pump does not close out; the caller that created the channel does.
//
// # Cancellation
//
// Context cancellation is checked between lines and while sending. A
// cancelled Pump sends no final snapshot and returns ctx.Err(), leaving the
// caller to settle the reply.
//
// # Outputs
//
//   - error: nil on completion, the transport error, or ctx.Err().
func Pump(ctx context.Context, r io.Reader, out chan<- Snapshot, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("request_id", opts.RequestID)

	dec := NewLineDecoderSize(r, opts.ChunkBytes, opts.MaxLineBytes)
	acc := NewAccumulator()
	dropped := 0

	send := func(s Snapshot) error {
		select {
		case out <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			streamsTotal.WithLabelValues(OutcomeCancelled).Inc()
			return err
		}

		line, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				streamsTotal.WithLabelValues(OutcomeClosed).Inc()
				logger.Debug("stream closed without terminator",
					"lines", dec.Lines(),
					"dropped", dropped,
					"discarded_bytes", dec.Discarded(),
				)
				return send(acc.Finalize())
			}
			if ctx.Err() != nil {
				streamsTotal.WithLabelValues(OutcomeCancelled).Inc()
				return ctx.Err()
			}

			streamsTotal.WithLabelValues(OutcomeTransport).Inc()
			logger.Warn("stream transport error",
				"lines", dec.Lines(),
				"error", err,
			)
			final := acc.Finalize()
			final.Err = err
			if sendErr := send(final); sendErr != nil {
				return sendErr
			}
			return fmt.Errorf("read stream: %w", err)
		}

		// Blank lines delimit SSE events.
		if line == "" {
			continue
		}

		for _, ev := range ParseLine(line) {
			eventsTotal.WithLabelValues(ev.Kind()).Inc()

			if u, ok := ev.(Unparseable); ok {
				dropped++
				logger.Debug("dropped unparseable line", "reason", u.Reason)
				continue
			}

			if acc.Apply(ev) {
				if err := send(acc.Snapshot()); err != nil {
					return err
				}
				continue
			}

			if acc.Terminated() {
				streamsTotal.WithLabelValues(OutcomeDone).Inc()
				logger.Debug("stream terminated",
					"lines", dec.Lines(),
					"dropped", dropped,
				)
				return send(acc.Finalize())
			}
		}
	}
}

// Collect runs a Pump to completion and returns the final snapshot.
//
// It is the non-interactive counterpart of consuming Pump directly, used
// by one-shot callers and tests. The returned error is Pump's error.
func Collect(ctx context.Context, r io.Reader, opts Options) (Snapshot, error) {
	out := make(chan Snapshot)
	var last Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(out)
		return Pump(gctx, r, out, opts)
	})
	g.Go(func() error {
		for s := range out {
			last = s
		}
		return nil
	})

	err := g.Wait()
	return last, err
}
