package session

import (
	"context"
	"time"
)

// Store is the transactional persistence contract the manager depends on.
// Each method is a single unit of work that either fully commits or fully
// rolls back. Implementations must return ErrNotFound for missing rows and
// must serialize sequence assignment per session.
type Store interface {
	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, s *Session) error

	// FindSession returns the session matching id. When owner is non-empty
	// the row must additionally match the owner, otherwise ErrNotFound is
	// returned; this is the sole access-control mechanism.
	FindSession(ctx context.Context, id, owner string) (*Session, error)

	// ListSessionsByOwner returns an owner's sessions newest-created-first,
	// optionally excluding terminal ones.
	ListSessionsByOwner(ctx context.Context, owner string, includeTerminal bool) ([]*Session, error)

	// ListExpiredSessions returns non-terminal sessions whose expiry has
	// passed.
	ListExpiredSessions(ctx context.Context, now time.Time) ([]*Session, error)

	// CountActiveByOwner counts an owner's non-terminal sessions.
	CountActiveByOwner(ctx context.Context, owner string) (int, error)

	// AppendMessages assigns contiguous sequence numbers continuing from
	// the session's current maximum and inserts the batch in input order.
	AppendMessages(ctx context.Context, sessionID string, msgs []Message) ([]ChatMessage, error)

	// ReplaceMessages deletes all messages for the session and inserts the
	// batch with sequence numbers 0..len-1. Destructive.
	ReplaceMessages(ctx context.Context, sessionID string, msgs []Message) ([]ChatMessage, error)

	// ClearMessages deletes all messages for the session.
	ClearMessages(ctx context.Context, sessionID string) error

	// ListMessages returns the session's messages ordered by sequence.
	ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error)

	// CountMessages returns the number of messages for the session.
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// UpdateConfig writes the full configuration snapshot.
	UpdateConfig(ctx context.Context, sessionID string, cfg SessionConfig) error

	// SetState unconditionally writes state and update timestamp.
	// Transition legality is the caller's responsibility.
	SetState(ctx context.Context, sessionID string, state State) error

	// SetConnection writes state and connection flag together.
	SetConnection(ctx context.Context, sessionID string, state State, connected bool) error
}
