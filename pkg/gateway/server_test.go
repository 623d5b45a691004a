package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/session"
	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/store"
)

type testGateway struct {
	server  *httptest.Server
	manager *session.Manager
}

func setupTestGateway(t *testing.T, maxPerUser int) *testGateway {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "gateway.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	manager := session.NewManager(st, session.Options{
		MaxSessionsPerUser: maxPerUser,
		SessionTTL:         time.Hour,
		Logger:             zerolog.Nop(),
	})
	t.Cleanup(manager.Close)

	srv, err := NewServer(Config{
		Host:    "127.0.0.1",
		Port:    8000,
		Manager: manager,
		Store:   st,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testGateway{server: ts, manager: manager}
}

func (g *testGateway) do(t *testing.T, method, path, owner string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, g.server.URL+path, reader)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (g *testGateway) createSession(t *testing.T, owner string) SessionResponse {
	t.Helper()
	resp := g.do(t, http.MethodPost, "/api/sessions", owner, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[SessionResponse](t, resp)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8000})
	assert.Error(t, err)
}

func TestGateway_CreateSession(t *testing.T) {
	g := setupTestGateway(t, 5)

	resp := g.do(t, http.MethodPost, "/api/sessions", "user-1", CreateSessionRequest{
		InitialHistory: []session.Message{
			{Role: session.RoleSystem, Content: "you are helpful"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody[SessionResponse](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, session.StateCreated, created.State)
	assert.Equal(t, session.DefaultSessionConfig(), created.Config)
	assert.Equal(t, 1, created.MessageCount)
}

func TestGateway_CreateSession_AnonymousAndEmptyBody(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "")
	assert.Empty(t, created.UserID)
}

func TestGateway_CreateSession_QuotaExceeded(t *testing.T) {
	g := setupTestGateway(t, 1)

	g.createSession(t, "user-1")

	resp := g.do(t, http.MethodPost, "/api/sessions", "user-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[ErrorResponse](t, resp)
	assert.Contains(t, body.Error, "maximum session limit")
}

func TestGateway_ListSessions(t *testing.T) {
	g := setupTestGateway(t, 5)

	g.createSession(t, "user-1")
	g.createSession(t, "user-1")
	g.createSession(t, "user-2")

	resp := g.do(t, http.MethodGet, "/api/sessions", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decodeBody[SessionListResponse](t, resp)
	assert.Equal(t, 2, list.Total)

	// Listing requires an identity
	resp = g.do(t, http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_GetSession_OwnershipScoping(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "user-a")

	resp := g.do(t, http.MethodGet, "/api/sessions/"+created.ID, "user-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Someone else's session is a plain 404
	resp = g.do(t, http.MethodGet, "/api/sessions/"+created.ID, "user-b", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/api/sessions/no-such-id", "user-a", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_UpdateSession(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "user-1")

	resp := g.do(t, http.MethodPatch, "/api/sessions/"+created.ID, "user-1", map[string]any{
		"tts_voice": "af_bella",
		"no_think":  true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[SessionResponse](t, resp)
	assert.Equal(t, "af_bella", updated.Config.TTSVoice)
	assert.True(t, updated.Config.NoThink)
	assert.Equal(t, created.Config.Persona, updated.Config.Persona)
}

func TestGateway_TerminateSession(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "user-1")

	resp := g.do(t, http.MethodDelete, "/api/sessions/"+created.ID, "user-1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The row survives in TERMINATED state and no longer lists by default
	resp = g.do(t, http.MethodGet, "/api/sessions/"+created.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[SessionResponse](t, resp)
	assert.Equal(t, session.StateTerminated, got.State)

	resp = g.do(t, http.MethodGet, "/api/sessions", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[SessionListResponse](t, resp)
	assert.Equal(t, 0, list.Total)
}

func TestGateway_HistoryRoundtrip(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "user-1")
	base := "/api/sessions/" + created.ID + "/history"

	resp := g.do(t, http.MethodPost, base, "user-1", HistoryWriteRequest{
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "hi"},
			{Role: session.RoleAssistant, Content: "hello"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = g.do(t, http.MethodGet, base, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody[HistoryResponse](t, resp)
	require.Equal(t, 2, history.Total)
	assert.Equal(t, "hi", history.Messages[0].Content)
	assert.Equal(t, "hello", history.Messages[1].Content)

	resp = g.do(t, http.MethodPut, base, "user-1", HistoryWriteRequest{
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: "fresh start"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = g.do(t, http.MethodGet, base, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history = decodeBody[HistoryResponse](t, resp)
	require.Equal(t, 1, history.Total)
	assert.Equal(t, "fresh start", history.Messages[0].Content)

	resp = g.do(t, http.MethodDelete, base, "user-1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = g.do(t, http.MethodGet, base, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history = decodeBody[HistoryResponse](t, resp)
	assert.Equal(t, 0, history.Total)
}

func TestGateway_History_NotFound(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "user-a")
	base := "/api/sessions/" + created.ID + "/history"

	// Wrong owner sees a 404 on every history verb
	resp := g.do(t, http.MethodGet, base, "user-b", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = g.do(t, http.MethodPost, base, "user-b", HistoryWriteRequest{
		Messages: []session.Message{{Role: session.RoleUser, Content: "x"}},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = g.do(t, http.MethodDelete, base, "user-b", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_History_InvalidMessages(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "user-1")
	base := "/api/sessions/" + created.ID + "/history"

	resp := g.do(t, http.MethodPost, base, "user-1", HistoryWriteRequest{
		Messages: []session.Message{{Role: "", Content: "no role"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_HealthEndpoints(t *testing.T) {
	g := setupTestGateway(t, 5)

	resp := g.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_WebSocket(t *testing.T) {
	g := setupTestGateway(t, 5)

	created := g.createSession(t, "user-1")

	wsURL := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws?session_id=" + created.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ready WSEvent
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, "ready", ready.Event)
	assert.Equal(t, created.ID, ready.SessionID)
	assert.NotEmpty(t, ready.ConnID)

	// The session is now ACTIVE and marked connected
	resp := g.do(t, http.MethodGet, "/api/sessions/"+created.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[SessionResponse](t, resp)
	assert.Equal(t, session.StateActive, got.State)
	assert.True(t, got.Connected)

	require.NoError(t, conn.Close())

	// Closing pauses the session and clears the connected flag
	assert.Eventually(t, func() bool {
		s, err := g.manager.Get(t.Context(), created.ID, "user-1")
		return err == nil && s.State == session.StatePaused && !s.Connected
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGateway_WebSocket_MissingSessionID(t *testing.T) {
	g := setupTestGateway(t, 5)

	wsURL := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_WebSocket_UnknownSession(t *testing.T) {
	g := setupTestGateway(t, 5)

	wsURL := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws?session_id=no-such-id"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
