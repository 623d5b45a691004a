// Package store persists sessions and chat messages in SQLite, implementing
// the session.Store contract. Every operation is a single transaction;
// sequence assignment for a session is serialized by SQLite's single-writer
// transaction model together with the unique (session_id, sequence) index.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/observability"
	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/session"

	_ "github.com/mattn/go-sqlite3"
)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "user_id", "state", "config_json", "websocket_connected",
	"created_at", "updated_at", "expires_at",
}

// messageColumns lists columns returned by chat message SELECT queries.
var messageColumns = []string{
	"id", "session_id", "sequence", "role", "content", "created_at",
}

// Store is the SQLite-backed session store.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := New(db, logger)
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Session store opened")
	return s, nil
}

// New wraps an existing database handle without touching the schema.
func New(db *sql.DB, logger zerolog.Logger) *Store {
	observability.EnsureRegistered()
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "session_store").Logger(),
	}
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			state TEXT NOT NULL,
			config_json TEXT NOT NULL,
			websocket_connected INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_state ON sessions(user_id, state);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			sequence INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(session_id, sequence)
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, sequence);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	start := time.Now()
	defer func() { observability.RecordStoreOp("create_session", time.Since(start)) }()

	configJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO sessions (id, user_id, state, config_json, websocket_connected, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID,
		nullableString(sess.UserID),
		string(sess.State),
		string(configJSON),
		sess.Connected,
		sess.CreatedAt,
		sess.UpdatedAt,
		sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

// FindSession returns the session matching id, additionally constrained to
// the owner when non-empty. Missing and non-owned rows are both
// session.ErrNotFound.
func (s *Store) FindSession(ctx context.Context, id, owner string) (*session.Session, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("find_session", time.Since(start)) }()

	q := sq.Select(sessionColumns...).From("sessions").Where(sq.Eq{"id": id})
	if owner != "" {
		q = q.Where(sq.Eq{"user_id": owner})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return sess, nil
}

// ListSessionsByOwner returns an owner's sessions newest-created-first.
func (s *Store) ListSessionsByOwner(ctx context.Context, owner string, includeTerminal bool) ([]*session.Session, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("list_sessions", time.Since(start)) }()

	q := sq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"user_id": owner}).
		OrderBy("created_at DESC")
	if !includeTerminal {
		q = q.Where(sq.NotEq{"state": terminalStates()})
	}

	return s.querySessions(ctx, q)
}

// ListExpiredSessions returns non-terminal sessions whose expiry has passed.
func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time) ([]*session.Session, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("list_expired", time.Since(start)) }()

	q := sq.Select(sessionColumns...).
		From("sessions").
		Where(sq.NotEq{"state": terminalStates()}).
		Where(sq.Lt{"expires_at": now})

	return s.querySessions(ctx, q)
}

// CountActiveByOwner counts an owner's non-terminal sessions.
func (s *Store) CountActiveByOwner(ctx context.Context, owner string) (int, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("count_active", time.Since(start)) }()

	query, args, err := sq.Select("COUNT(*)").
		From("sessions").
		Where(sq.Eq{"user_id": owner}).
		Where(sq.NotEq{"state": terminalStates()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	return count, nil
}

// AppendMessages inserts the batch with sequence numbers continuing from
// the session's current maximum, all in one transaction. The max-sequence
// read and the inserts are atomic with respect to other writers.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []session.Message) ([]session.ChatMessage, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("append_messages", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(sequence) FROM chat_messages WHERE session_id = ?", sessionID,
	).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("failed to read max sequence: %w", err)
	}

	next := 0
	if maxSeq.Valid {
		next = int(maxSeq.Int64) + 1
	}

	created, err := insertMessages(ctx, tx, sessionID, msgs, next)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return created, nil
}

// ReplaceMessages deletes the session's messages and inserts the batch
// resequenced from zero, in one transaction.
func (s *Store) ReplaceMessages(ctx context.Context, sessionID string, msgs []session.Message) ([]session.ChatMessage, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("replace_messages", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chat_messages WHERE session_id = ?", sessionID,
	); err != nil {
		return nil, fmt.Errorf("failed to delete messages: %w", err)
	}

	created, err := insertMessages(ctx, tx, sessionID, msgs, 0)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return created, nil
}

// ClearMessages deletes all messages for the session.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	start := time.Now()
	defer func() { observability.RecordStoreOp("clear_messages", time.Since(start)) }()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_messages WHERE session_id = ?", sessionID,
	); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	return nil
}

// ListMessages returns the session's messages ordered by sequence.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]session.ChatMessage, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("list_messages", time.Since(start)) }()

	query, args, err := sq.Select(messageColumns...).
		From("chat_messages").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("sequence ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []session.ChatMessage
	for rows.Next() {
		var m session.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sequence, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// CountMessages returns the number of messages for the session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	start := time.Now()
	defer func() { observability.RecordStoreOp("count_messages", time.Since(start)) }()

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_messages WHERE session_id = ?", sessionID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}

// UpdateConfig writes the full configuration snapshot and bumps updated_at.
func (s *Store) UpdateConfig(ctx context.Context, sessionID string, cfg session.SessionConfig) error {
	start := time.Now()
	defer func() { observability.RecordStoreOp("update_config", time.Since(start)) }()

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET config_json = ?, updated_at = ? WHERE id = ?",
		string(configJSON), time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}

	return requireRow(res)
}

// SetState unconditionally writes state and update timestamp.
func (s *Store) SetState(ctx context.Context, sessionID string, state session.State) error {
	start := time.Now()
	defer func() { observability.RecordStoreOp("set_state", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?",
		string(state), time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	return requireRow(res)
}

// SetConnection writes state and connection flag together.
func (s *Store) SetConnection(ctx context.Context, sessionID string, state session.State, connected bool) error {
	start := time.Now()
	defer func() { observability.RecordStoreOp("set_connection", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET state = ?, websocket_connected = ?, updated_at = ? WHERE id = ?",
		string(state), connected, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set connection: %w", err)
	}

	return requireRow(res)
}

func (s *Store) querySessions(ctx context.Context, q sq.SelectBuilder) ([]*session.Session, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

func insertMessages(ctx context.Context, tx *sql.Tx, sessionID string, msgs []session.Message, startSeq int) ([]session.ChatMessage, error) {
	created := make([]session.ChatMessage, 0, len(msgs))
	now := time.Now().UTC()

	for i, msg := range msgs {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO chat_messages (session_id, sequence, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
			sessionID, startSeq+i, msg.Role, msg.Content, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read insert id: %w", err)
		}

		created = append(created, session.ChatMessage{
			ID:        id,
			SessionID: sessionID,
			Sequence:  startSeq + i,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: now,
		})
	}

	return created, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess       session.Session
		userID     sql.NullString
		state      string
		configJSON string
	)

	if err := row.Scan(
		&sess.ID,
		&userID,
		&state,
		&configJSON,
		&sess.Connected,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.ExpiresAt,
	); err != nil {
		return nil, err
	}

	sess.UserID = userID.String
	sess.State = session.State(state)
	if err := json.Unmarshal([]byte(configJSON), &sess.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &sess, nil
}

func terminalStates() []string {
	return []string{string(session.StateExpired), string(session.StateTerminated)}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}
