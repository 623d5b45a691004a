// Package gateway exposes the session core over HTTP and WebSocket.
// Owner identity arrives as an opaque X-User-ID header value set by the
// fronting credential layer; this package never validates credentials.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/observability"
	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/session"
)

// Pinger is the health probe contract the readiness endpoint depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the gateway HTTP/WebSocket server.
type Server struct {
	host           string
	port           int
	server         *http.Server
	upgrader       websocket.Upgrader
	manager        *session.Manager
	store          Pinger
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	connWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Manager *session.Manager
	Store   Pinger
	Logger  zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	return &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		manager: cfg.Manager,
		store:   cfg.Store,
		logger:  cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleTerminateSession)

	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleGetHistory)
	mux.HandleFunc("POST /api/sessions/{id}/history", s.handleAddMessages)
	mux.HandleFunc("PUT /api/sessions/{id}/history", s.handleReplaceHistory)
	mux.HandleFunc("DELETE /api/sessions/{id}/history", s.handleClearHistory)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /readyz", s.handleReadiness)

	return mux
}

// Start starts the gateway server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)),
		Handler: s.routes(),
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting gateway server")

	// Start server in goroutine so it doesn't block
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Handler returns the server's HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	if s.server != nil {
		return s.server.Handler
	}
	return s.routes()
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	// Wait for open websocket sessions with timeout
	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
