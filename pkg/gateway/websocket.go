package gateway

import (
	"context"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/observability"
)

// handleWebSocket upgrades the connection and binds it to a session.
// Connecting is keyed by session identifier alone; whoever holds the
// identifier may connect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if _, err := s.manager.Connect(r.Context(), sessionID); err != nil {
		s.writeSessionError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		_ = s.manager.Disconnect(r.Context(), sessionID)
		return
	}

	connID, err := gonanoid.New()
	if err != nil {
		connID = sessionID
	}

	s.connWG.Add(1)
	observability.IncWebsocketConnections()

	logger := s.logger.With().Str("session_id", sessionID).Str("conn_id", connID).Logger()
	logger.Info().Msg("WebSocket client connected")

	_ = conn.WriteJSON(WSEvent{
		Event:     "ready",
		SessionID: sessionID,
		ConnID:    connID,
		Timestamp: time.Now().UnixMilli(),
	})

	go func() {
		defer func() {
			conn.Close()
			// Request context is gone once the handler returns; the
			// disconnect must still reach the store.
			if err := s.manager.Disconnect(context.Background(), sessionID); err != nil {
				logger.Warn().Err(err).Msg("Failed to disconnect session")
			}
			observability.DecWebsocketConnections()
			s.connWG.Done()
			logger.Info().Msg("WebSocket client disconnected")
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
