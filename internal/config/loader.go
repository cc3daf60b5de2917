package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".steward", "steward.json")
	}

	// Return default config if file doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		fillDerivedPaths(cfg)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Read environment variables
	v.SetEnvPrefix("STEWARD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := fillDerivedPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fillDerivedPaths fills in paths that default relative to the data directory
func fillDerivedPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".steward")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "steward.log")
	}
	if cfg.Learning.LogPath == "" {
		cfg.Learning.LogPath = filepath.Join(cfg.DataDir, "strategy-log.jsonl")
	}
	if cfg.Mailbox.DBPath == "" {
		cfg.Mailbox.DBPath = filepath.Join(cfg.DataDir, "mailbox.db")
	}
	if cfg.Guardian.StateDir == "" {
		cfg.Guardian.StateDir = filepath.Join(cfg.DataDir, "instances")
	}
	if cfg.Transcripts.Dir == "" {
		cfg.Transcripts.Dir = filepath.Join(cfg.DataDir, "transcripts")
	}

	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".steward", "steward.json")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Set all config values (use canonical fields only)
	v.Set("model", cfg.Model)
	v.Set("learning", cfg.Learning)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("guardian", cfg.Guardian)
	v.Set("transcripts", cfg.Transcripts)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".steward", "steward.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
