// Package api exposes the question answering service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/docquery/docquery/internal/answer"
	"github.com/docquery/docquery/internal/llm"
	"github.com/docquery/docquery/internal/log"
	"github.com/docquery/docquery/internal/session"
)

// Answerer is the question answering seam the chat handler depends on.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (answer.Response, error)
}

// Reindexer is the ingestion seam the reindex handler depends on.
type Reindexer interface {
	Reindex(ctx context.Context) (int, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Answerer    Answerer       // Required
	Sessions    *session.Store // Required
	Pipeline    Reindexer      // Required
	Registry    *llm.Registry  // Required
	CORSOrigins []string       // Allowed origins for CORS
	TrustProxy  bool           // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int            // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("model registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	h := &handlers{
		answerer: cfg.Answerer,
		sessions: cfg.Sessions,
		pipeline: cfg.Pipeline,
		registry: cfg.Registry,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models", h.models)
	mux.HandleFunc("POST /api/chat", h.chat)
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.sessionMessages)
	mux.HandleFunc("POST /api/reindex", h.reindex)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID sits before Logging so request_id reaches the log attributes.
	// CORS sits before RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", h.health)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
