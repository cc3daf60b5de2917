package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude-sonnet-4", cfg.Model.Model)
	assert.Equal(t, 0.7, cfg.Model.Temperature)
	assert.Equal(t, 4096, cfg.Model.MaxTokens)
	assert.Equal(t, "GeneralAI", cfg.Learning.DefaultRole)
	assert.Equal(t, 5*time.Minute, cfg.Mailbox.QuestionTimeout)
	assert.NotEmpty(t, cfg.Mailbox.DefaultAnswer)
	assert.Equal(t, 2*time.Minute, cfg.Guardian.TestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.APIKey = "sk-ant-test123"

		err := cfg.Validate()
		assert.NoError(t, err)
	})

	t.Run("invalid provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.Provider = "cohere"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid provider")
	})

	t.Run("bad API key format", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.Provider = "anthropic"
		cfg.Model.APIKey = "not-a-key"

		err := cfg.Validate()
		assert.Error(t, err)
	})

	t.Run("temperature out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.Temperature = 1.5

		err := cfg.Validate()
		assert.Error(t, err)
	})

	t.Run("zero question timeout rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mailbox.QuestionTimeout = 0

		err := cfg.Validate()
		assert.Error(t, err)
	})

	t.Run("empty default role rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Learning.DefaultRole = ""

		err := cfg.Validate()
		assert.Error(t, err)
	})
}

func TestConfigStringMasksAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-ant-supersecret123456"

	s := cfg.String()

	assert.NotContains(t, s, "sk-ant-supersecret123456")
	assert.True(t, strings.Contains(s, "[REDACTED]"))
}
