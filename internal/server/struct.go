package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mentora-app/mentora-go/internal/chat"
	"github.com/mentora-app/mentora-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for a full streamed generation.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs GET /metrics.
	// If nil, a fresh registry with the standard Go and process collectors is
	// created.
	Registry *prometheus.Registry
}

// responder is the interface handleChat calls to stream a reply.
// *chat.Pipeline satisfies it; tests inject a fake.
type responder interface {
	// Respond streams the assistant reply for req to w and reports the
	// terminal pipeline state.
	Respond(ctx context.Context, req *chat.Request, w io.Writer) (*chat.Result, error)
}

// Server is the HTTP server that exposes the chat pipeline and the
// conversation store as a REST API.
type Server struct {
	// pipeline produces streamed replies for POST /api/chat.
	pipeline responder
	// store backs the conversation CRUD endpoints.
	store store.ConversationStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// quotaErrorResponse is the JSON body returned with 429 when the user's
// daily message allowance is exhausted.
type quotaErrorResponse struct {
	// Error is the stable machine-readable code: always "limit_reached".
	Error string `json:"error"`
	// Message is a human-readable explanation including the limit.
	Message string `json:"message"`
	// Remaining is the number of messages left today. Always 0 here.
	Remaining int `json:"remaining"`
	// Limit is the tier's daily message limit.
	Limit int `json:"limit"`
}

// errorResponse is the generic JSON error body for non-quota failures.
type errorResponse struct {
	// Error is a short human-readable description of the failure.
	Error string `json:"error"`
}

// createConversationRequest is the JSON body for POST /api/conversations.
type createConversationRequest struct {
	// UserID identifies the owner of the new thread.
	UserID string `json:"userId"`
	// Title is an optional display title.
	Title string `json:"title,omitempty"`
}

// renameConversationRequest is the JSON body for PATCH /api/conversations/{id}.
type renameConversationRequest struct {
	// Title is the new display title. Must not be empty.
	Title string `json:"title"`
}

// conversationListResponse is the JSON body for GET /api/conversations.
type conversationListResponse struct {
	// Conversations is the user's threads, most recently updated first.
	Conversations []store.Conversation `json:"conversations"`
}

// messageListResponse is the JSON body for GET /api/conversations/{id}/messages.
type messageListResponse struct {
	// Messages is the thread's turns in chronological order.
	Messages []store.Message `json:"messages"`
}
