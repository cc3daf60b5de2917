package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "anthropic", cfg.Model.Provider)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		// Create a test config file
		testConfig := `{
			"model": {
				"provider": "openai",
				"api_key": "sk-test-key",
				"model": "gpt-4-turbo"
			},
			"learning": {
				"default_role": "ConciergeAI"
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "openai", cfg.Model.Provider)
		assert.Equal(t, "sk-test-key", cfg.Model.APIKey)
		assert.Equal(t, "gpt-4-turbo", cfg.Model.Model)
		assert.Equal(t, "ConciergeAI", cfg.Learning.DefaultRole)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"model": {"provider": "anthropic", "api_key": "sk-ant-test"}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
		assert.NotEmpty(t, cfg.Learning.LogPath)
		assert.NotEmpty(t, cfg.Mailbox.DBPath)
		assert.NotEmpty(t, cfg.Guardian.StateDir)
		assert.NotEmpty(t, cfg.Transcripts.Dir)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		cfg := DefaultConfig()
		cfg.Model.APIKey = "sk-ant-test-key"
		cfg.Learning.DefaultRole = "ConciergeAI"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify file was created
		_, err = os.Stat(configPath)
		assert.NoError(t, err)

		// Load and verify
		loader2 := NewLoader(configPath)
		loadedCfg, err := loader2.Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-test-key", loadedCfg.Model.APIKey)
		assert.Equal(t, "ConciergeAI", loadedCfg.Learning.DefaultRole)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		cfg := DefaultConfig()
		cfg.Model.APIKey = "sk-ant-test-key"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify directory was created
		_, err = os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		path := loader.GetConfigPath()
		assert.Equal(t, "/custom/path/config.json", path)
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".steward")
	})
}
