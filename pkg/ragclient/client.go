// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ragclient is the HTTP transport to the Neurostack RAG service.
//
// # Architecture
//
//	chat.Session → Client → HTTPClient interface → http.Client
//
// The HTTPClient interface exists so tests can substitute canned responses.
// Client opens requests and hands back the raw response body for the query
// stream; decoding belongs to package stream.
package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Saadajee/neurostack-copilot/pkg/conversation"
	"github.com/Saadajee/neurostack-copilot/pkg/credentials"
)

// DefaultTimeout bounds a whole request including the streamed body.
const DefaultTimeout = 60 * time.Second

// Endpoint paths.
const (
	PathQuery     = "/rag/query"
	PathIncrement = "/increment-query"
	PathFeedback  = "/feedback"
	PathAnalytics = "/analytics"
	PathHealth    = "/health"
	PathReady     = "/ready"
)

// maxErrorBody caps how much of a non-2xx body is kept for the error.
const maxErrorBody = 4 << 10

// ErrUnexpectedStatus matches every *StatusError via errors.Is.
var ErrUnexpectedStatus = errors.New("ragclient: unexpected status")

var (
	tracer = otel.Tracer("neurostack.ragclient")

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_rag_requests_total",
		Help: "Requests to the RAG service by endpoint and result",
	}, []string{"endpoint", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copilot_rag_request_duration_seconds",
		Help:    "Time until response headers from the RAG service",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// HTTPClient is the subset of *http.Client used by Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrUnexpectedStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Feedback is the body of POST /feedback.
type Feedback struct {
	Query  string              `json:"query"`
	Answer string              `json:"answer"`
	Rating conversation.Rating `json:"rating"`
}

// Analytics is the body of GET /analytics. Aggregation happens server side.
type Analytics struct {
	QueriesToday       int     `json:"queries_today"`
	TotalQueries       int     `json:"total_queries"`
	PercentWithSources float64 `json:"percent_with_sources"`
	AvgRelevance       float64 `json:"avg_relevance"`
	GoodFeedback       int     `json:"good_feedback"`
	BadFeedback        int     `json:"bad_feedback"`
	TotalFeedback      int     `json:"total_feedback"`
}

// Readiness is the body of GET /ready.
type Readiness struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:8000. Required.
	BaseURL string

	// Timeout bounds each request, body included. Default: DefaultTimeout.
	Timeout time.Duration

	// Credentials supplies the bearer token. Nil sends no Authorization.
	Credentials credentials.Provider

	// Logger for request diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Client talks to the RAG service.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	http    HTTPClient
	baseURL string
	creds   credentials.Provider
	logger  *slog.Logger
}

// New creates a Client with a production http.Client whose Timeout is
// cfg.Timeout. The timeout covers reading the streamed body, so a stalled
// stream fails instead of hanging; it is never retried. The transport
// propagates trace context to the service.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewWithClient(&http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, cfg)
}

// NewWithClient creates a Client using the given HTTPClient.
func NewWithClient(client HTTPClient, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		creds:   cfg.Credentials,
		logger:  logger.With("component", "ragclient"),
	}
}

// =============================================================================
// Query Stream
// =============================================================================

// Query submits query and returns the open response body.
//
// # Description
//
// POSTs {"query": query} to /rag/query with the bearer header. A 2xx
// response returns its body unread; the caller must Close it. Any other
// status reads up to 4 KiB of the body into a *StatusError.
//
// # Inputs
//
//   - ctx: Cancels the request and the body read.
//   - requestID: Sent as X-Request-ID and logged.
//   - query: The user query, already trimmed.
//
// # Outputs
//
//   - io.ReadCloser: The event stream.
//   - error: Transport error or *StatusError.
func (c *Client) Query(ctx context.Context, requestID, query string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "ragclient.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("query.length", len(query)),
	)

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathQuery, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.do(req, PathQuery)
	if err != nil {
		c.logger.Warn("RAG query request failed",
			"request_id", requestID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.Body, nil
}

// =============================================================================
// Side Channels
// =============================================================================

// IncrementQueryCount bumps the server-side query counter.
func (c *Client) IncrementQueryCount(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, PathIncrement, nil, nil)
}

// SubmitFeedback posts a rating for one exchange.
func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) error {
	if !fb.Rating.Valid() {
		return conversation.ErrInvalidRating
	}
	return c.call(ctx, http.MethodPost, PathFeedback, fb, nil)
}

// Analytics fetches the aggregate usage numbers.
func (c *Client) Analytics(ctx context.Context) (*Analytics, error) {
	var out Analytics
	if err := c.call(ctx, http.MethodGet, PathAnalytics, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns nil when the service answers /health with 2xx.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, PathHealth, nil, nil)
}

// Ready reports whether the retrieval indexes are loaded.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	var out Readiness
	if err := c.call(ctx, http.MethodGet, PathReady, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Helpers
// =============================================================================

// call performs a small JSON request and decodes the reply into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	ctx, span := tracer.Start(ctx, "ragclient."+strings.TrimPrefix(path, "/"))
	defer span.End()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds != nil {
		tok, err := c.creds.Token(ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+tok)
		case errors.Is(err, credentials.ErrNoToken):
			c.logger.Debug("sending request without bearer token", "path", path, "token_present", false)
		default:
			return nil, fmt.Errorf("resolve bearer token: %w", err)
		}
	}
	return req, nil
}

// do sends req and converts non-2xx responses into *StatusError, closing
// their body.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, fmt.Errorf("%s %s: %w", req.Method, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		requestsTotal.WithLabelValues(endpoint, "status_error").Inc()
		c.logger.Debug("RAG service returned error status",
			"endpoint", endpoint,
			"status_code", resp.StatusCode,
			"response_body", string(raw),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	requestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return resp, nil
}
