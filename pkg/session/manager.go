package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager orchestrates the durable store and the process-local cache. It
// enforces per-owner quotas, ownership scoping, state machine legality and
// lazy expiry.
type Manager struct {
	store      Store
	cache      *Cache
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex

	maxPerUser int
	ttl        time.Duration
	now        func() time.Time
}

// Options configures a Manager.
type Options struct {
	// MaxSessionsPerUser is the quota of simultaneous non-terminal
	// sessions per owner.
	MaxSessionsPerUser int

	// SessionTTL is the time-to-live stamped onto sessions at creation.
	SessionTTL time.Duration

	Logger zerolog.Logger
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, opts Options) *Manager {
	observability.EnsureRegistered()

	if opts.MaxSessionsPerUser <= 0 {
		opts.MaxSessionsPerUser = 10
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}

	return &Manager{
		store:      store,
		cache:      NewCache(opts.Logger),
		logger:     opts.Logger.With().Str("component", "session_manager").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
		maxPerUser: opts.MaxSessionsPerUser,
		ttl:        opts.SessionTTL,
		now:        time.Now,
	}
}

// getWriteLock gets or creates the write lock for a session. Every compound
// of store write plus cache reconcile for one session runs under its lock,
// so a concurrent connect-hydrate can never observe the store ahead of the
// mirror and double-apply a message.
func (m *Manager) getWriteLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, exists := m.writeLocks[id]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	m.writeLocks[id] = lock
	return lock
}

// releaseWriteLock drops the lock entry once a session is terminal.
func (m *Manager) releaseWriteLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.writeLocks, id)
}

// Cache exposes the active session cache for the transport layer.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Create persists a new session in state CREATED with expiry now+TTL. When
// userID is non-empty the owner's quota is checked first; on quota failure
// nothing is written. Initial history, when given, is persisted and seeds
// the cache mirror.
func (m *Manager) Create(ctx context.Context, userID string, cfg *SessionConfig, initialHistory []Message) (*Session, error) {
	if userID != "" {
		count, err := m.store.CountActiveByOwner(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count sessions: %w", err)
		}
		if count >= m.maxPerUser {
			return nil, fmt.Errorf("%w (%d)", ErrQuotaExceeded, m.maxPerUser)
		}
	}

	sessionConfig := DefaultSessionConfig()
	if cfg != nil {
		sessionConfig = *cfg
	}

	now := m.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     StateCreated,
		Config:    sessionConfig,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	lock := m.getWriteLock(s.ID)
	lock.Lock()
	defer lock.Unlock()

	if len(initialHistory) > 0 {
		if _, err := m.store.AppendMessages(ctx, s.ID, initialHistory); err != nil {
			// The session row already committed; retire it so it cannot
			// linger half-created against the owner's quota.
			if terr := m.store.SetState(ctx, s.ID, StateTerminated); terr != nil {
				m.logger.Warn().Str("session_id", s.ID).Err(terr).Msg("Failed to retire half-created session")
			}
			return nil, fmt.Errorf("failed to persist initial history: %w", err)
		}
	}

	m.cache.Hydrate(s.ID, sessionConfig, initialHistory)
	observability.RecordSessionCreated(userID != "")

	m.logger.Info().Str("session_id", s.ID).Str("user_id", userID).Msg("Session created")
	return s, nil
}

// Get fetches a session, scoped to owner when non-empty. A session past its
// expiry is transitioned to EXPIRED, evicted from the cache and reported as
// ErrNotFound; callers never observe expiry as a distinct state.
func (m *Manager) Get(ctx context.Context, id, owner string) (*Session, error) {
	s, err := m.store.FindSession(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	if s.IsExpired(m.now()) {
		if !s.State.IsTerminal() {
			if err := m.expireSession(ctx, s.ID); err != nil {
				return nil, err
			}
		}
		return nil, ErrNotFound
	}

	return s, nil
}

// GetWithHistory is Get plus the session's messages ordered by sequence.
func (m *Manager) GetWithHistory(ctx context.Context, id, owner string) (*Session, []ChatMessage, error) {
	s, err := m.Get(ctx, id, owner)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	return s, msgs, nil
}

// List returns an owner's sessions newest-first, optionally including
// terminal ones.
func (m *Manager) List(ctx context.Context, owner string, includeTerminal bool) ([]*Session, error) {
	return m.store.ListSessionsByOwner(ctx, owner, includeTerminal)
}

// MessageCount returns the number of persisted messages for a session.
func (m *Manager) MessageCount(ctx context.Context, id string) (int, error) {
	return m.store.CountMessages(ctx, id)
}

// UpdateConfig merges the non-nil patch fields into the stored
// configuration and refreshes the cache mirror if one exists.
func (m *Manager) UpdateConfig(ctx context.Context, id string, patch ConfigPatch, owner string) (*Session, error) {
	s, err := m.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	lock := m.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	merged := patch.Apply(s.Config)
	if err := m.store.UpdateConfig(ctx, id, merged); err != nil {
		return nil, fmt.Errorf("failed to update config: %w", err)
	}

	s.Config = merged
	s.UpdatedAt = m.now().UTC()
	m.cache.SetConfig(id, merged)

	m.logger.Info().Str("session_id", id).Msg("Session config updated")
	return s, nil
}

// Terminate moves the session to TERMINATED and evicts its cache entry,
// shutting down attached runtime resources.
func (m *Manager) Terminate(ctx context.Context, id, owner string) error {
	s, err := m.Get(ctx, id, owner)
	if err != nil {
		return err
	}
	if s.State.IsTerminal() {
		m.cache.Evict(id)
		return nil
	}

	lock := m.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.SetState(ctx, id, StateTerminated); err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	observability.RecordSessionTransition(string(StateTerminated))

	m.cache.Evict(id)
	m.releaseWriteLock(id)

	m.logger.Info().Str("session_id", id).Msg("Session terminated")
	return nil
}

// Connect marks a session ACTIVE and connected. Connection is keyed by
// session identifier alone; whoever holds the identifier may connect. The
// cache entry is hydrated from the persisted history on first touch.
func (m *Manager) Connect(ctx context.Context, id string) (*ActiveSession, error) {
	s, err := m.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, ErrNotFound
	}

	lock := m.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.SetConnection(ctx, id, StateActive, true); err != nil {
		return nil, fmt.Errorf("failed to mark session connected: %w", err)
	}
	observability.RecordSessionTransition(string(StateActive))

	active := m.cache.Get(id)
	if active == nil {
		msgs, err := m.store.ListMessages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		history := make([]Message, len(msgs))
		for i, msg := range msgs {
			history[i] = Message{Role: msg.Role, Content: msg.Content}
		}
		active = m.cache.Hydrate(id, s.Config, history)
	}
	m.cache.SetConnected(id, true)

	m.logger.Info().Str("session_id", id).Msg("WebSocket connected")
	return active, nil
}

// Disconnect marks a session PAUSED and disconnected. It is best-effort:
// a missing persisted row is not an error, since disconnect can race with
// termination, and the cache-side flag is cleared regardless.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id, "")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if s != nil && !s.State.IsTerminal() {
		if err := m.store.SetConnection(ctx, id, StatePaused, false); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to mark session disconnected: %w", err)
		}
		observability.RecordSessionTransition(string(StatePaused))
	}

	m.cache.SetConnected(id, false)

	m.logger.Info().Str("session_id", id).Msg("WebSocket disconnected")
	return nil
}

// ActiveSession returns the cached runtime state for a session, or nil.
func (m *Manager) ActiveSession(id string) *ActiveSession {
	return m.cache.Get(id)
}

// GetHistory returns the persisted history ordered by sequence. An
// inaccessible session yields an empty result, not an error; callers that
// need to distinguish "no session" from "empty history" check existence
// separately.
func (m *Manager) GetHistory(ctx context.Context, id, owner string) ([]ChatMessage, error) {
	if _, err := m.Get(ctx, id, owner); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return m.store.ListMessages(ctx, id)
}

// AddMessages appends a batch to the persisted history and reconciles the
// cache mirror. Inaccessible sessions yield an empty result.
func (m *Manager) AddMessages(ctx context.Context, id string, msgs []Message, owner string) ([]ChatMessage, error) {
	if _, err := m.Get(ctx, id, owner); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	lock := m.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	created, err := m.store.AppendMessages(ctx, id, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to append messages: %w", err)
	}

	m.cache.Touch(id, msgs...)

	m.logger.Info().Str("session_id", id).Int("messages", len(msgs)).Msg("Messages added")
	return created, nil
}

// ReplaceHistory destructively replaces the persisted history with the
// batch, resequenced from zero, and mirrors the result into the cache.
func (m *Manager) ReplaceHistory(ctx context.Context, id string, msgs []Message, owner string) ([]ChatMessage, error) {
	if _, err := m.Get(ctx, id, owner); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	lock := m.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	created, err := m.store.ReplaceMessages(ctx, id, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to replace history: %w", err)
	}

	m.cache.ReplaceHistory(id, msgs)

	m.logger.Info().Str("session_id", id).Int("messages", len(msgs)).Msg("History replaced")
	return created, nil
}

// ClearHistory deletes the persisted history and empties the cache mirror.
// Returns false without error when the session is inaccessible.
func (m *Manager) ClearHistory(ctx context.Context, id, owner string) (bool, error) {
	if _, err := m.Get(ctx, id, owner); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	lock := m.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.ClearMessages(ctx, id); err != nil {
		return false, fmt.Errorf("failed to clear history: %w", err)
	}

	m.cache.ClearHistory(id)

	m.logger.Info().Str("session_id", id).Msg("History cleared")
	return true, nil
}

// CleanupExpired forces expiry of every non-terminal session whose TTL has
// lapsed. Failures are isolated per session; one session's error never
// aborts the sweep of the rest. Returns the number of sessions expired.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	cleaned := 0
	for _, s := range expired {
		if err := m.expireSession(ctx, s.ID); err != nil {
			m.logger.Warn().Str("session_id", s.ID).Err(err).Msg("Failed to expire session")
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		m.logger.Info().Int("cleaned", cleaned).Msg("Cleaned up expired sessions")
	}

	return cleaned, nil
}

// expireSession is the single idempotent expiry transition, shared by the
// lazy read path and the cleanup sweep so the two cannot disagree.
func (m *Manager) expireSession(ctx context.Context, id string) error {
	lock := m.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.SetState(ctx, id, StateExpired); err != nil {
		return err
	}
	observability.RecordSessionTransition(string(StateExpired))

	m.cache.Evict(id)
	m.releaseWriteLock(id)

	m.logger.Debug().Str("session_id", id).Msg("Session expired")
	return nil
}

// Close evicts all cached sessions, shutting down their runtime resources.
func (m *Manager) Close() {
	m.cache.Close()
}
