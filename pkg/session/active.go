package session

import (
	"sync"
	"time"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/observability"
	"github.com/rs/zerolog"
)

// StoppableResource is the narrow capability contract for runtime resources
// attached to an active session (speech pipelines, audio processors). The
// cache only ever invokes Shutdown, during eviction.
type StoppableResource interface {
	Shutdown() error
}

// ActiveSession is the process-local runtime mirror of a session. It is
// never persisted; correctness must not depend on it surviving a restart.
type ActiveSession struct {
	SessionID string

	mu           sync.Mutex
	config       SessionConfig
	history      []Message
	pipeline     StoppableResource
	audioInput   StoppableResource
	connected    bool
	lastActivity time.Time
}

// Config returns the mirrored configuration.
func (a *ActiveSession) Config() SessionConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// History returns a copy of the in-memory history mirror.
func (a *ActiveSession) History() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.history))
	copy(out, a.history)
	return out
}

// Connected reports the mirrored connection flag.
func (a *ActiveSession) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// LastActivity returns the last time this entry was touched.
func (a *ActiveSession) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// AttachPipeline binds the speech pipeline handle. The handle is borrowed;
// its shutdown is delegated to the cache on eviction.
func (a *ActiveSession) AttachPipeline(r StoppableResource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pipeline = r
}

// AttachAudioInput binds the audio input handle.
func (a *ActiveSession) AttachAudioInput(r StoppableResource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audioInput = r
}

func (a *ActiveSession) touch(now time.Time) {
	a.lastActivity = now
}

// Cache maps session identifiers to ActiveSession entries within one
// process. It is a continuity optimization, rebuildable from the store at
// any time. Mutation of a single entry is serialized by the entry's own
// lock; entries for different sessions never block one another.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*ActiveSession
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCache constructs an empty active session cache.
func NewCache(logger zerolog.Logger) *Cache {
	observability.EnsureRegistered()
	return &Cache{
		entries: make(map[string]*ActiveSession),
		logger:  logger.With().Str("component", "session_cache").Logger(),
		now:     time.Now,
	}
}

// Get returns the entry for id, or nil when absent.
func (c *Cache) Get(id string) *ActiveSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id]
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hydrate creates an entry seeded with config and history if none exists.
// An existing entry is returned unchanged; hydration happens at most once
// per warm period.
func (c *Cache) Hydrate(id string, cfg SessionConfig, history []Message) *ActiveSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		return existing
	}

	entry := &ActiveSession{
		SessionID:    id,
		config:       cfg,
		history:      append([]Message(nil), history...),
		lastActivity: c.now(),
	}
	c.entries[id] = entry
	observability.SetActiveSessions(len(c.entries))

	c.logger.Debug().Str("session_id", id).Int("history", len(history)).Msg("Session hydrated")
	return entry
}

// Touch appends messages to the in-memory mirror. The persisted store has
// already been updated by the caller; this only reconciles the mirror.
func (c *Cache) Touch(id string, msgs ...Message) {
	entry := c.Get(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.history = append(entry.history, msgs...)
	entry.touch(c.now())
}

// ReplaceHistory swaps the in-memory mirror for the given batch.
func (c *Cache) ReplaceHistory(id string, msgs []Message) {
	entry := c.Get(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.history = append([]Message(nil), msgs...)
	entry.touch(c.now())
}

// ClearHistory empties the in-memory mirror.
func (c *Cache) ClearHistory(id string) {
	entry := c.Get(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.history = entry.history[:0]
	entry.touch(c.now())
}

// SetConfig updates the mirrored configuration.
func (c *Cache) SetConfig(id string, cfg SessionConfig) {
	entry := c.Get(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.config = cfg
	entry.touch(c.now())
}

// SetConnected updates the mirrored connection flag.
func (c *Cache) SetConnected(id string, connected bool) {
	entry := c.Get(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.connected = connected
	entry.touch(c.now())
}

// Evict removes the entry and shuts down any attached runtime resources.
// Shutdown failures are logged and swallowed; eviction always completes.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	observability.SetActiveSessions(len(c.entries))
	c.mu.Unlock()

	if !ok {
		return
	}

	entry.mu.Lock()
	pipeline := entry.pipeline
	audioInput := entry.audioInput
	entry.pipeline = nil
	entry.audioInput = nil
	entry.mu.Unlock()

	if pipeline != nil {
		if err := pipeline.Shutdown(); err != nil {
			c.logger.Warn().Str("session_id", id).Err(err).Msg("Failed to shut down pipeline")
		}
	}
	if audioInput != nil {
		if err := audioInput.Shutdown(); err != nil {
			c.logger.Warn().Str("session_id", id).Err(err).Msg("Failed to shut down audio input")
		}
	}

	c.logger.Debug().Str("session_id", id).Msg("Session evicted")
}

// Close evicts every entry, shutting down their resources. Called once on
// process shutdown.
func (c *Cache) Close() {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		c.Evict(id)
	}
}
