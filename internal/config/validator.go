package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates the model service provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{"anthropic", "openai"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	// Check if it's a known model
	knownModels := []string{
		"claude-opus-4",
		"claude-sonnet-4",
		"claude-haiku-4",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}

	for _, known := range knownModels {
		if model == known {
			return nil
		}
	}

	// Allow custom models (just warn)
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateRoleName validates an agent role name used as a session key
func (v *Validator) ValidateRoleName(role string) error {
	if role == "" {
		return fmt.Errorf("role cannot be empty")
	}
	if strings.ContainsAny(role, "/\\") {
		return fmt.Errorf("role cannot contain path separators")
	}
	if strings.Contains(role, "..") {
		return fmt.Errorf("role cannot contain '..'")
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		errors = append(errors, err)
	}
	if cfg.Model.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Model.APIKey, cfg.Model.Provider); err != nil {
			errors = append(errors, err)
		}
	}
	if err := v.ValidateModel(cfg.Model.Model); err != nil {
		errors = append(errors, err)
	}
	if cfg.Model.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Model.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Model.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateRoleName(cfg.Learning.DefaultRole); err != nil {
		errors = append(errors, fmt.Errorf("learning default role: %w", err))
	}

	if cfg.Mailbox.QuestionTimeout <= 0 {
		errors = append(errors, fmt.Errorf("mailbox.question_timeout must be positive"))
	}
	if cfg.Guardian.TestTimeout <= 0 {
		errors = append(errors, fmt.Errorf("guardian.test_timeout must be positive"))
	}
	if cfg.Transcripts.MaxIdleAge < 0 {
		errors = append(errors, fmt.Errorf("transcripts.max_idle_age must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
