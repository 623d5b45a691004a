package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateCreated, false},
		{StateActive, false},
		{StatePaused, false},
		{StateExpired, true},
		{StateTerminated, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Hour)}

	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(2*time.Hour)))
}

func TestConfigPatch_Apply(t *testing.T) {
	base := DefaultSessionConfig()

	t.Run("empty patch leaves config untouched", func(t *testing.T) {
		merged := ConfigPatch{}.Apply(base)
		assert.Equal(t, base, merged)
	})

	t.Run("only set fields are merged", func(t *testing.T) {
		patch := ConfigPatch{
			TTSVoice: strPtr("af_bella"),
			NoThink:  boolPtr(true),
		}
		merged := patch.Apply(base)

		assert.Equal(t, "af_bella", merged.TTSVoice)
		assert.True(t, merged.NoThink)
		assert.Equal(t, base.LLMProvider, merged.LLMProvider)
		assert.Equal(t, base.Persona, merged.Persona)
		assert.Equal(t, base.Language, merged.Language)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		patch := ConfigPatch{Persona: strPtr("pirate")}
		_ = patch.Apply(base)
		assert.Equal(t, "default", base.Persona)
	})

	t.Run("explicit false overrides", func(t *testing.T) {
		cfg := base
		cfg.NoThink = true
		merged := ConfigPatch{NoThink: boolPtr(false)}.Apply(cfg)
		assert.False(t, merged.NoThink)
	})
}

func TestConfigPatch_IsZero(t *testing.T) {
	assert.True(t, ConfigPatch{}.IsZero())
	assert.False(t, ConfigPatch{Language: strPtr("de")}.IsZero())
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()

	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, "kokoro", cfg.TTSEngine)
	assert.Equal(t, "af_heart", cfg.TTSVoice)
	assert.Equal(t, "default", cfg.Persona)
	assert.Equal(t, "normal", cfg.Verbosity)
	assert.Equal(t, "en", cfg.Language)
	assert.False(t, cfg.NoThink)
}
