// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ragmock is a development RAG service. It answers from a small FAQ
// knowledge base and streams replies in the same frame format as the
// production service, so the copilot can be run and tested without a model.
//
// # Routes
//
//	POST /rag/query        bearer  stream tokens, answer, chunks, [DONE]
//	POST /increment-query  bearer  bump the daily and total query counters
//	POST /feedback         bearer  record a good/bad rating
//	GET  /analytics        bearer  counters and feedback totals
//	GET  /health                   liveness
//	GET  /ready                    index readiness
//	GET  /metrics                  prometheus
package ragmock

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Saadajee/neurostack-copilot/pkg/telemetry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// ServiceName is the otel service and middleware name.
	ServiceName = "ragmock"

	// Fixed analytics figures reported alongside the live counters.
	percentWithSources = 96
	avgRelevance       = 0.91

	maxFeedbackQuery  = 500
	maxFeedbackAnswer = 2000
)

var (
	queriesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragmock_queries_total",
		Help: "Queries answered by the development RAG service",
	}, []string{"result"})

	framesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragmock_frames_written_total",
		Help: "Stream frames written, [DONE] included",
	})
)

// =============================================================================
// Types
// =============================================================================

// Config configures a Server.
type Config struct {
	// Token is the accepted bearer token. Empty accepts any bearer token;
	// the header is still required.
	Token string

	// Knowledge answers queries. Default: the built-in FAQ.
	Knowledge *KnowledgeBase

	// TopK passages per query. Default: DefaultTopK.
	TopK int

	// MinRelevance the best passage must beat. Default: DefaultMinRelevance.
	MinRelevance float64

	// TokenDelay is the pause between token frames. Zero streams at once.
	TokenDelay time.Duration

	// Logger for request logs. Default: slog.Default().
	Logger *slog.Logger

	// Now is the clock used for the daily counter. Default: time.Now.
	Now func() time.Time
}

// FeedbackEntry is one recorded rating.
type FeedbackEntry struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Rating    string    `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
}

// Analytics is the /analytics reply.
type Analytics struct {
	QueriesToday       int     `json:"queries_today"`
	TotalQueries       int     `json:"total_queries"`
	PercentWithSources float64 `json:"percent_with_sources"`
	AvgRelevance       float64 `json:"avg_relevance"`
	GoodFeedback       int     `json:"good_feedback"`
	BadFeedback        int     `json:"bad_feedback"`
	TotalFeedback      int     `json:"total_feedback"`
}

// Server holds the knowledge base and the in-memory counters.
//
// # Thread Safety
//
// Safe for concurrent use.
type Server struct {
	cfg    Config
	kb     *KnowledgeBase
	logger *slog.Logger
	ready  atomic.Bool

	mu           sync.Mutex
	day          string
	queriesToday int
	totalQueries int
	feedback     []FeedbackEntry
}

// New creates a Server that reports ready.
func New(cfg Config) *Server {
	if cfg.Knowledge == nil {
		cfg.Knowledge = NewKnowledgeBase(DefaultEntries())
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = DefaultMinRelevance
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		kb:     cfg.Knowledge,
		logger: logger.With("component", ServiceName),
	}
	s.ready.Store(true)
	return s
}

// SetReady toggles what /ready reports.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Feedback returns a copy of the recorded ratings.
func (s *Server) Feedback() []FeedbackEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FeedbackEntry(nil), s.feedback...)
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	authed := router.Group("/", s.bearerAuth())
	{
		authed.POST("/rag/query", s.handleQuery)
		authed.POST("/increment-query", s.handleIncrement)
		authed.POST("/feedback", s.handleFeedback)
		authed.GET("/analytics", s.handleAnalytics)
	}
	return router
}

// Run serves the router on addr until ctx is done, then shuts down
// gracefully, letting open streams finish for up to five seconds.
//
// # Outputs
//
//   - error: nil after a clean shutdown, or the listen error.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting ragmock server", "addr", addr, "entries", s.kb.Len())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("ragmock server stopped")
	return nil
}

// =============================================================================
// Middleware
// =============================================================================

// bearerAuth rejects requests without "Authorization: Bearer <token>".
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or missing token"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or missing token"})
			return
		}
		if s.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or expired token"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"request_id", c.GetHeader("X-Request-ID"),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// =============================================================================
// Handlers
// =============================================================================

type queryRequest struct {
	Query string `json:"query"`
}

// handleQuery streams the reply to one query.
//
// A relevant query streams its answer word by word, then the full answer,
// then the retrieved passages. An irrelevant one gets NotEnoughInformation
// and an empty passage list. Both end with [DONE].
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Request body must be {\"query\": string}"})
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Query cannot be empty"})
		return
	}

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	w, err := NewSSEWriter(c.Writer)
	if err != nil {
		s.logger.Error("streaming not supported", "error", err)
		return
	}

	logger := s.logger.With("request_id", c.GetHeader("X-Request-ID"))
	hits := s.kb.Search(query, s.cfg.TopK)
	if !Relevant(hits, s.cfg.MinRelevance) {
		logger.Info("query below relevance threshold", "hits", len(hits))
		queriesServed.WithLabelValues("irrelevant").Inc()
		s.writeFrames(c, w, func() error {
			if err := w.WriteAnswer(NotEnoughInformation); err != nil {
				return err
			}
			return w.WriteChunks(nil)
		})
		return
	}

	answer := hits[0].Answer
	ctx := c.Request.Context()
	ok := s.writeFrames(c, w, func() error {
		for _, token := range strings.SplitAfter(answer, " ") {
			if s.cfg.TokenDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.cfg.TokenDelay):
				}
			}
			if err := w.WriteToken(token); err != nil {
				return err
			}
		}
		if err := w.WriteAnswer(answer); err != nil {
			return err
		}
		return w.WriteChunks(hits)
	})
	if ok {
		queriesServed.WithLabelValues("answered").Inc()
		logger.Info("query answered", "hits", len(hits), "top_score", hits[0].Score, "frame_count", w.Frames())
	}
}

// writeFrames runs body and then writes [DONE]. It reports false when the
// client went away.
func (s *Server) writeFrames(c *gin.Context, w SSEWriter, body func() error) bool {
	if err := body(); err != nil {
		s.logger.Debug("stream aborted", "error", err)
		queriesServed.WithLabelValues("aborted").Inc()
		return false
	}
	if err := w.WriteDone(); err != nil {
		s.logger.Debug("stream aborted", "error", err)
		return false
	}
	return c.Request.Context().Err() == nil
}

func (s *Server) handleIncrement(c *gin.Context) {
	today := s.cfg.Now().Format(time.DateOnly)

	s.mu.Lock()
	if s.day != today {
		s.day = today
		s.queriesToday = 0
	}
	s.queriesToday++
	s.totalQueries++
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "counted"})
}

type feedbackRequest struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
	Rating string `json:"rating" binding:"required,oneof=good bad"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "rating must be \"good\" or \"bad\""})
		return
	}

	entry := FeedbackEntry{
		Query:     truncateRunes(req.Query, maxFeedbackQuery),
		Answer:    truncateRunes(req.Answer, maxFeedbackAnswer),
		Rating:    req.Rating,
		Timestamp: s.cfg.Now().UTC(),
	}
	s.mu.Lock()
	s.feedback = append(s.feedback, entry)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "thanks"})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	today := s.cfg.Now().Format(time.DateOnly)

	s.mu.Lock()
	out := Analytics{
		TotalQueries:       s.totalQueries,
		PercentWithSources: percentWithSources,
		AvgRelevance:       avgRelevance,
	}
	if s.day == today {
		out.QueriesToday = s.queriesToday
	}
	for _, f := range s.feedback {
		switch f.Rating {
		case "good":
			out.GoodFeedback++
		case "bad":
			out.BadFeedback++
		}
	}
	s.mu.Unlock()

	out.TotalFeedback = out.GoodFeedback + out.BadFeedback
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleReady(c *gin.Context) {
	ready := s.ready.Load() && s.kb.Len() > 0
	message := "Indexes still loading..."
	if ready {
		message = "RAG system loaded"
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":       ready,
		"faiss_index": ready,
		"bm25_index":  ready,
		"message":     message,
	})
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
