// Package api exposes the care-companion service over HTTP.
//
// Endpoints:
//
//	POST /api/chat/get-health-advice        answer a user turn with RAG
//	POST /api/knowledge-base/upsert-data    embed and store knowledge records
//	POST /api/knowledge-base/fetch-metadata similarity search with threshold
//	POST /api/knowledge-base/delete-records remove records by ID
//	POST /api/chat-history/store            append transcript turns
//	POST /api/chat-history/retrieve         load a transcript
//	GET  /api/chat-history/conversations    list conversation IDs
//	GET  /health                            liveness probe
//	GET  /ready                             readiness probe
//
// File structure mirrors the endpoints: chat.go, knowledge.go, history.go,
// health.go, with shared helpers in response.go and middleware.go.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAddr is the fallback listen address.
	DefaultAddr = "127.0.0.1:8000"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout bounds reading a whole request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout bounds writing a response; generation can be slow.
	WriteTimeout = 120 * time.Second

	// IdleTimeout bounds keep-alive connections between requests.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP front of the service.
type Server struct {
	mux *http.ServeMux

	chat      *ChatHandler
	knowledge *KnowledgeHandler
	history   *HistoryHandler
	health    *HealthHandler
}

// NewServer registers all routes and returns the server.
func NewServer(chat *ChatHandler, knowledge *KnowledgeHandler, history *HistoryHandler, health *HealthHandler) *Server {
	mux := http.NewServeMux()
	s := &Server{
		mux:       mux,
		chat:      chat,
		knowledge: knowledge,
		history:   history,
		health:    health,
	}

	s.chat.RegisterRoutes(mux)
	s.knowledge.RegisterRoutes(mux)
	s.history.RegisterRoutes(mux)
	s.health.RegisterRoutes(mux)
	return s
}

// Handler returns the mux wrapped in middleware, recovery outermost.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
