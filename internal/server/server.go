// Package server implements the memory server: a JSON-RPC endpoint at
// POST /mcp backed by the record store, plus a health endpoint. Responses
// are framed as plain JSON, or as a server-sent event stream when the
// client asks for one and streaming is enabled.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sincerelyyyash/memory-mind/internal/config"
	"github.com/sincerelyyyash/memory-mind/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the memory server.
type Server struct {
	listen config.ListenConfig
	store  *store.Store
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a memory server over the given record store.
func NewServer(listen config.ListenConfig, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen: listen,
		store:  st,
		logger: logger,
	}
}

// Start begins serving requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.listen.Address, s.listen.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	addr := s.listen.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting memory server",
		"address", addr,
		"port", s.listen.Port,
		"streaming", s.listen.Streaming,
	)
	return s.server.ListenAndServe()
}

// Handler returns the server's routing handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", s.handleMCP)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withLogging(mux)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":  "healthy",
		"records": s.store.Stats(),
	}, s.logger)
}
