package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/session"
)

// ownerFromRequest extracts the opaque owner identifier supplied by the
// fronting credential layer. Empty means anonymous.
func ownerFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := s.manager.Create(r.Context(), ownerFromRequest(r), req.Config, req.InitialHistory)
	if err != nil {
		if errors.Is(err, session.ErrQuotaExceeded) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sessionToResponse(sess, len(req.InitialHistory)))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromRequest(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	includeExpired, _ := strconv.ParseBool(r.URL.Query().Get("include_expired"))

	sessions, err := s.manager.List(r.Context(), owner, includeExpired)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	resp := SessionListResponse{Sessions: make([]SessionResponse, 0, len(sessions)), Total: len(sessions)}
	for _, sess := range sessions {
		count, err := s.manager.MessageCount(r.Context(), sess.ID)
		if err != nil {
			s.logger.Warn().Str("session_id", sess.ID).Err(err).Msg("Failed to count messages")
		}
		resp.Sessions = append(resp.Sessions, sessionToResponse(sess, count))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, msgs, err := s.manager.GetWithHistory(r.Context(), id, ownerFromRequest(r))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionToResponse(sess, len(msgs)))
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch session.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.manager.UpdateConfig(r.Context(), id, patch, ownerFromRequest(r))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	count, err := s.manager.MessageCount(r.Context(), id)
	if err != nil {
		s.logger.Warn().Str("session_id", id).Err(err).Msg("Failed to count messages")
	}

	writeJSON(w, http.StatusOK, sessionToResponse(sess, count))
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.manager.Terminate(r.Context(), id, ownerFromRequest(r)); err != nil {
		s.writeSessionError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner := ownerFromRequest(r)

	// Verify access first: an empty history and a missing session must
	// be distinguishable at the API surface.
	if _, err := s.manager.Get(r.Context(), id, owner); err != nil {
		s.writeSessionError(w, err)
		return
	}

	msgs, err := s.manager.GetHistory(r.Context(), id, owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load history")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, historyToResponse(id, msgs))
}

func (s *Server) handleAddMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner := ownerFromRequest(r)

	req, ok := decodeHistoryWrite(w, r)
	if !ok {
		return
	}

	if _, err := s.manager.Get(r.Context(), id, owner); err != nil {
		s.writeSessionError(w, err)
		return
	}

	created, err := s.manager.AddMessages(r.Context(), id, req.Messages, owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to add messages")
		writeError(w, http.StatusInternalServerError, "failed to add messages")
		return
	}

	writeJSON(w, http.StatusCreated, historyToResponse(id, created))
}

func (s *Server) handleReplaceHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner := ownerFromRequest(r)

	req, ok := decodeHistoryWrite(w, r)
	if !ok {
		return
	}

	if _, err := s.manager.Get(r.Context(), id, owner); err != nil {
		s.writeSessionError(w, err)
		return
	}

	created, err := s.manager.ReplaceHistory(r.Context(), id, req.Messages, owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to replace history")
		writeError(w, http.StatusInternalServerError, "failed to replace history")
		return
	}

	writeJSON(w, http.StatusOK, historyToResponse(id, created))
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner := ownerFromRequest(r)

	cleared, err := s.manager.ClearHistory(r.Context(), id, owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear history")
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	if !cleared {
		writeError(w, http.StatusNotFound, "session not found or access denied")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found or access denied")
		return
	}
	s.logger.Error().Err(err).Msg("Session operation failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeHistoryWrite(w http.ResponseWriter, r *http.Request) (HistoryWriteRequest, bool) {
	var req HistoryWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	for _, msg := range req.Messages {
		if msg.Role == "" || msg.Content == "" {
			writeError(w, http.StatusBadRequest, "message role and content are required")
			return req, false
		}
	}
	return req, true
}

func historyToResponse(sessionID string, msgs []session.ChatMessage) HistoryResponse {
	resp := HistoryResponse{
		SessionID: sessionID,
		Messages:  make([]MessageResponse, 0, len(msgs)),
		Total:     len(msgs),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
