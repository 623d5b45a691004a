package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/session"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(owner string) *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		ID:        uuid.NewString(),
		UserID:    owner,
		State:     session.StateCreated,
		Config:    session.DefaultSessionConfig(),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestStore_CreateAndFindSession(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := newTestSession("user-1")
	require.NoError(t, s.CreateSession(ctx, sess))

	found, err := s.FindSession(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)
	assert.Equal(t, "user-1", found.UserID)
	assert.Equal(t, session.StateCreated, found.State)
	assert.Equal(t, sess.Config, found.Config)
	assert.False(t, found.Connected)
}

func TestStore_FindSession_OwnerFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := newTestSession("user-a")
	require.NoError(t, s.CreateSession(ctx, sess))

	// Matching owner finds it
	found, err := s.FindSession(ctx, sess.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)

	// Different owner is indistinguishable from missing
	_, err = s.FindSession(ctx, sess.ID, "user-b")
	assert.ErrorIs(t, err, session.ErrNotFound)

	// Unknown id
	_, err = s.FindSession(ctx, "no-such-id", "")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_ListSessionsByOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := newTestSession("user-1")
	first.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.CreateSession(ctx, first))

	second := newTestSession("user-1")
	require.NoError(t, s.CreateSession(ctx, second))

	terminated := newTestSession("user-1")
	require.NoError(t, s.CreateSession(ctx, terminated))
	require.NoError(t, s.SetState(ctx, terminated.ID, session.StateTerminated))

	other := newTestSession("user-2")
	require.NoError(t, s.CreateSession(ctx, other))

	// Non-terminal only, newest first
	sessions, err := s.ListSessionsByOwner(ctx, "user-1", false)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)

	// Terminal included
	sessions, err = s.ListSessionsByOwner(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
}

func TestStore_CountActiveByOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateSession(ctx, newTestSession("user-1")))
	}
	expired := newTestSession("user-1")
	require.NoError(t, s.CreateSession(ctx, expired))
	require.NoError(t, s.SetState(ctx, expired.ID, session.StateExpired))

	count, err := s.CountActiveByOwner(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStore_AppendMessages_SequenceAssignment(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := newTestSession("")
	require.NoError(t, s.CreateSession(ctx, sess))

	// First batch starts at 0
	created, err := s.AppendMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleUser, Content: "one"},
		{Role: session.RoleAssistant, Content: "two"},
		{Role: session.RoleUser, Content: "three"},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	for i, m := range created {
		assert.Equal(t, i, m.Sequence)
	}

	// Second batch continues contiguously
	created, err = s.AppendMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleAssistant, Content: "four"},
		{Role: session.RoleUser, Content: "five"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, 3, created[0].Sequence)
	assert.Equal(t, 4, created[1].Sequence)

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, i, m.Sequence)
	}
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "five", msgs[4].Content)
}

func TestStore_ReplaceMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := newTestSession("")
	require.NoError(t, s.CreateSession(ctx, sess))

	_, err := s.AppendMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleUser, Content: "old 1"},
		{Role: session.RoleAssistant, Content: "old 2"},
		{Role: session.RoleUser, Content: "old 3"},
	})
	require.NoError(t, err)

	created, err := s.ReplaceMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleSystem, Content: "new 1"},
		{Role: session.RoleUser, Content: "new 2"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, 0, created[0].Sequence)
	assert.Equal(t, 1, created[1].Sequence)

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "new 1", msgs[0].Content)
	assert.Equal(t, "new 2", msgs[1].Content)
}

func TestStore_ClearAndCountMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := newTestSession("")
	require.NoError(t, s.CreateSession(ctx, sess))

	_, err := s.AppendMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)

	count, err := s.CountMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.ClearMessages(ctx, sess.ID))

	count, err = s.CountMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_UpdateConfig(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := newTestSession("user-1")
	require.NoError(t, s.CreateSession(ctx, sess))

	cfg := sess.Config
	cfg.TTSVoice = "af_bella"
	cfg.NoThink = true
	require.NoError(t, s.UpdateConfig(ctx, sess.ID, cfg))

	found, err := s.FindSession(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "af_bella", found.Config.TTSVoice)
	assert.True(t, found.Config.NoThink)

	// Missing row
	err = s.UpdateConfig(ctx, "no-such-id", cfg)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_SetStateAndConnection(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := newTestSession("")
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.SetConnection(ctx, sess.ID, session.StateActive, true))

	found, err := s.FindSession(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, found.State)
	assert.True(t, found.Connected)

	require.NoError(t, s.SetState(ctx, sess.ID, session.StateTerminated))

	found, err = s.FindSession(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, session.StateTerminated, found.State)

	assert.ErrorIs(t, s.SetState(ctx, "no-such-id", session.StateExpired), session.ErrNotFound)
	assert.ErrorIs(t, s.SetConnection(ctx, "no-such-id", session.StateActive, true), session.ErrNotFound)
}

func TestStore_ListExpiredSessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stale := newTestSession("user-1")
	stale.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.CreateSession(ctx, stale))

	fresh := newTestSession("user-1")
	require.NoError(t, s.CreateSession(ctx, fresh))

	alreadyExpired := newTestSession("user-1")
	alreadyExpired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.CreateSession(ctx, alreadyExpired))
	require.NoError(t, s.SetState(ctx, alreadyExpired.ID, session.StateExpired))

	expired, err := s.ListExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
}

func TestStore_AppendMessages_TxFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, zerolog.Nop())
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT MAX\\(sequence\\) FROM chat_messages").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = s.AppendMessages(ctx, "sess-1", []session.Message{
		{Role: session.RoleUser, Content: "boom"},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindSession_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, zerolog.Nop())

	mock.ExpectQuery("SELECT .* FROM sessions").
		WillReturnError(assert.AnError)

	_, err = s.FindSession(context.Background(), "sess-1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrNotFound)
}
