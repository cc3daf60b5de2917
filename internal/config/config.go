package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Steward configuration
type Config struct {
	// Model execution service
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Strategy learning
	Learning LearningConfig `json:"learning" mapstructure:"learning"`

	// Mailbox / question-answer protocol
	Mailbox MailboxConfig `json:"mailbox" mapstructure:"mailbox"`

	// Guardian lifecycle
	Guardian GuardianConfig `json:"guardian" mapstructure:"guardian"`

	// Transcript retention
	Transcripts TranscriptConfig `json:"transcripts" mapstructure:"transcripts"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig holds model execution service settings
type ModelConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// LearningConfig holds strategy learner settings
type LearningConfig struct {
	// LogPath is the append-only strategy log location.
	LogPath string `json:"log_path" mapstructure:"log_path"`
	// DefaultRole is the role the fallback strategy targets.
	DefaultRole string `json:"default_role" mapstructure:"default_role"`
}

// MailboxConfig holds mailbox and question settings
type MailboxConfig struct {
	// DBPath is the sqlite database backing mailbox state.
	DBPath string `json:"db_path" mapstructure:"db_path"`
	// QuestionTimeout bounds how long a task waits for an answer.
	QuestionTimeout time.Duration `json:"question_timeout" mapstructure:"question_timeout"`
	// DefaultAnswer is used when a question expires unanswered and no
	// option list is present.
	DefaultAnswer string `json:"default_answer" mapstructure:"default_answer"`
}

// GuardianConfig holds guardian lifecycle settings
type GuardianConfig struct {
	// StateDir holds one JSON document per instance.
	StateDir string `json:"state_dir" mapstructure:"state_dir"`
	// TestTimeout bounds a single variation test case.
	TestTimeout time.Duration `json:"test_timeout" mapstructure:"test_timeout"`
}

// TranscriptConfig holds conversation transcript retention settings
type TranscriptConfig struct {
	Dir        string        `json:"dir" mapstructure:"dir"`
	MaxIdleAge time.Duration `json:"max_idle_age" mapstructure:"max_idle_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"`
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Learning: LearningConfig{
			DefaultRole: "GeneralAI",
		},
		Mailbox: MailboxConfig{
			QuestionTimeout: 5 * time.Minute,
			DefaultAnswer:   "proceed with your best judgment",
		},
		Guardian: GuardianConfig{
			TestTimeout: 2 * time.Minute,
		},
		Transcripts: TranscriptConfig{
			MaxIdleAge: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateProvider(c.Model.Provider); err != nil {
		return err
	}
	if c.Model.APIKey != "" {
		if err := v.ValidateAPIKey(c.Model.APIKey, c.Model.Provider); err != nil {
			return err
		}
	}
	if err := v.ValidateModel(c.Model.Model); err != nil {
		return err
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if c.Learning.DefaultRole == "" {
		return fmt.Errorf("learning default role cannot be empty")
	}
	if c.Mailbox.QuestionTimeout <= 0 {
		return fmt.Errorf("question timeout must be positive")
	}
	if c.Guardian.TestTimeout <= 0 {
		return fmt.Errorf("guardian test timeout must be positive")
	}

	return nil
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = "[REDACTED]"
	}

	data, err := json.MarshalIndent(&masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
