package session

import (
	"time"
)

// State is the lifecycle state of a session.
//
// Transitions are monotone toward a terminal state:
// CREATED -> ACTIVE <-> PAUSED, and any non-terminal state may move to
// EXPIRED or TERMINATED. Nothing leaves a terminal state.
type State string

const (
	StateCreated    State = "created"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateExpired    State = "expired"
	StateTerminated State = "terminated"
)

// IsTerminal reports whether no further transitions are legal.
func (s State) IsTerminal() bool {
	return s == StateExpired || s == StateTerminated
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is the durable record binding an owner (optional), configuration
// and lifecycle state.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id,omitempty"` // empty means anonymous
	State     State         `json:"state"`
	Config    SessionConfig `json:"config"`
	Connected bool          `json:"websocket_connected"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// IsExpired reports whether the session's time-to-live has lapsed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionConfig describes the provider/voice/persona settings a session
// was created with.
type SessionConfig struct {
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
	TTSEngine   string `json:"tts_engine"`
	TTSVoice    string `json:"tts_voice"`
	Persona     string `json:"persona"`
	Verbosity   string `json:"verbosity"`
	Language    string `json:"language"`
	NoThink     bool   `json:"no_think"`
}

// DefaultSessionConfig returns the configuration used when a session is
// created without one.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		LLMProvider: "openai",
		LLMModel:    "gpt-4o-mini",
		TTSEngine:   "kokoro",
		TTSVoice:    "af_heart",
		Persona:     "default",
		Verbosity:   "normal",
		Language:    "en",
	}
}

// ConfigPatch is a whitelisted partial configuration update. Only non-nil
// fields are applied; everything else is left untouched.
type ConfigPatch struct {
	LLMProvider *string `json:"llm_provider,omitempty"`
	LLMModel    *string `json:"llm_model,omitempty"`
	TTSEngine   *string `json:"tts_engine,omitempty"`
	TTSVoice    *string `json:"tts_voice,omitempty"`
	Persona     *string `json:"persona,omitempty"`
	Verbosity   *string `json:"verbosity,omitempty"`
	Language    *string `json:"language,omitempty"`
	NoThink     *bool   `json:"no_think,omitempty"`
}

// IsZero reports whether the patch carries no updates.
func (p ConfigPatch) IsZero() bool {
	return p.LLMProvider == nil && p.LLMModel == nil && p.TTSEngine == nil &&
		p.TTSVoice == nil && p.Persona == nil && p.Verbosity == nil &&
		p.Language == nil && p.NoThink == nil
}

// Apply merges the patch into cfg and returns the result. It is a pure
// function; neither input is mutated.
func (p ConfigPatch) Apply(cfg SessionConfig) SessionConfig {
	if p.LLMProvider != nil {
		cfg.LLMProvider = *p.LLMProvider
	}
	if p.LLMModel != nil {
		cfg.LLMModel = *p.LLMModel
	}
	if p.TTSEngine != nil {
		cfg.TTSEngine = *p.TTSEngine
	}
	if p.TTSVoice != nil {
		cfg.TTSVoice = *p.TTSVoice
	}
	if p.Persona != nil {
		cfg.Persona = *p.Persona
	}
	if p.Verbosity != nil {
		cfg.Verbosity = *p.Verbosity
	}
	if p.Language != nil {
		cfg.Language = *p.Language
	}
	if p.NoThink != nil {
		cfg.NoThink = *p.NoThink
	}
	return cfg
}

// Message is a single conversation turn as supplied by callers and as
// mirrored in the in-memory history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessage is a persisted conversation turn. Sequence numbers are
// contiguous non-negative integers per session, assigned in commit order.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}
