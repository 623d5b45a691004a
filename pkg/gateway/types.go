package gateway

import (
	"time"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/session"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Config         *session.SessionConfig `json:"config,omitempty"`
	InitialHistory []session.Message      `json:"initial_history,omitempty"`
}

// SessionResponse describes a session to API clients.
type SessionResponse struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id,omitempty"`
	State        session.State         `json:"state"`
	Config       session.SessionConfig `json:"config"`
	CreatedAt    time.Time             `json:"created_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
	Connected    bool                  `json:"websocket_connected"`
	MessageCount int                   `json:"message_count"`
}

// SessionListResponse is the body of GET /api/sessions.
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

// MessageResponse describes a persisted chat message to API clients.
type MessageResponse struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse is the body of GET /api/sessions/{id}/history.
type HistoryResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []MessageResponse `json:"messages"`
	Total     int               `json:"total"`
}

// HistoryWriteRequest is the body of POST/PUT /api/sessions/{id}/history.
type HistoryWriteRequest struct {
	Messages []session.Message `json:"messages"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WSEvent is a server-initiated websocket event.
type WSEvent struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	ConnID    string `json:"conn_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func sessionToResponse(s *session.Session, messageCount int) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		UserID:       s.UserID,
		State:        s.State,
		Config:       s.Config,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		Connected:    s.Connected,
		MessageCount: messageCount,
	}
}
