package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
)

// Server wraps the HTTP server hosting the REST API.
type Server struct {
	cfg        *config.Config
	handlers   *Handlers
	httpServer *http.Server
}

// NewServer builds a Server around the given handler set. Routes are wired
// lazily on ListenAndServe so tests can grab Handler() without binding a port.
func NewServer(cfg *config.Config, handlers *Handlers) *Server {
	return &Server{
		cfg:      cfg,
		handlers: handlers,
	}
}

// Handler returns the fully wired router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return SetupRoutes(s.handlers)
}

// ListenAndServe starts the HTTP server and blocks until it exits.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.GetHost(), s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: SetupRoutes(s.handlers),
		// Campaign creation can carry a multi-megabyte base64 attachment, so
		// the read/write timeouts are generous. Header read stays tight.
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests. Safe to call before
// ListenAndServe has run.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
