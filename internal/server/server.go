// Package server implements the HTTP server that exposes the chat pipeline
// and conversation history via a REST API. Chat replies stream as plain text;
// everything else speaks JSON. The server is started by the `mentora serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mentora-app/mentora-go/internal/chat"
	"github.com/mentora-app/mentora-go/internal/logging"
	"github.com/mentora-app/mentora-go/internal/quota"
	"github.com/mentora-app/mentora-go/internal/store"
)

// New constructs a Server from the provided pipeline, store, and config.
func New(pipeline *chat.Pipeline, cs store.ConversationStore, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cs == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}

	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	s := &Server{
		pipeline: pipeline,
		store:    cs,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(registry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: MENTORA_API_KEY not set — API authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	// protected wraps a handler with Bearer auth and the per-IP rate limit.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protected("chat", s.handleChat))
	mux.Handle("GET /api/conversations", protected("conversations_list", s.handleConversationList))
	mux.Handle("POST /api/conversations", protected("conversations_create", s.handleConversationCreate))
	mux.Handle("GET /api/conversations/{id}", protected("conversations_get", s.handleConversationGet))
	mux.Handle("PATCH /api/conversations/{id}", protected("conversations_rename", s.handleConversationRename))
	mux.Handle("DELETE /api/conversations/{id}", protected("conversations_delete", s.handleConversationDelete))
	mux.Handle("GET /api/conversations/{id}/messages", protected("conversation_messages", s.handleConversationMessages))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. The reply streams to the client as
// chunked plain text, one fragment per model chunk, so the UI can render
// tokens as they arrive. Rejections (validation, quota) are decided before
// the first byte of the body and use conventional status codes; once
// streaming has begun the status line is already sent and a failure simply
// ends the body early.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tier == "" {
		req.Tier = quota.TierFree
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sw := &streamWriter{w: w, flusher: flusher}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	start := time.Now()
	res, err := s.pipeline.Respond(r.Context(), &req, sw)
	outcome := "ok"

	switch {
	case err == nil:
		// Stream completed; a question that produced no fragments still
		// needs the headers sent.
		sw.ensureHeaders()

	case errors.Is(err, chat.ErrValidation):
		outcome = "rejected"
		writeJSONError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, chat.ErrQuotaExceeded):
		outcome = "quota"
		s.metrics.quotaRejectionsTotal.WithLabelValues(string(req.Tier)).Inc()
		writeJSON(w, http.StatusTooManyRequests, quotaErrorResponse{
			Error:     "limit_reached",
			Message:   fmt.Sprintf("Daily limit of %d messages reached. Upgrade your plan or try again tomorrow.", res.Quota.Limit),
			Remaining: 0,
			Limit:     res.Quota.Limit,
		})

	case res != nil && res.Streamed:
		// Fragments already reached the client; the stream just ends early.
		outcome = "error"
		log.Error("chat: stream ended early", slog.Any("error", err))

	default:
		outcome = "error"
		log.Error("chat: request failed", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to generate response")
	}

	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// streamWriter writes plain-text fragments to the client, sending the
// streaming headers lazily on first write and flushing after every fragment.
// Deferring the headers keeps the status line available for pre-stream
// rejections (400/429/500).
type streamWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter
	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
	// wrote reports whether the headers have been sent.
	wrote bool
}

// ensureHeaders sends the streaming headers if no fragment has done so yet.
func (s *streamWriter) ensureHeaders() {
	if s.wrote {
		return
	}
	s.wrote = true
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// Write sends one fragment and flushes it to the client.
func (s *streamWriter) Write(p []byte) (int, error) {
	s.ensureHeaders()
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	s.flusher.Flush()
	return n, nil
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error body with the given status code.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
