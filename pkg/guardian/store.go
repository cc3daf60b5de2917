package guardian

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// InstanceStore persists instance records across daemon restarts.
type InstanceStore interface {
	Save(inst *Instance) error
	Delete(name string) error
	Get(name string) (*Instance, error)
	List() ([]*Instance, error)
}

// FileStore keeps one JSON file per instance under a base directory.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".steward", "instances")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create instance store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.baseDir, name+".json")
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid instance name: %q", name)
	}
	return nil
}

func (s *FileStore) Save(inst *Instance) error {
	if inst == nil {
		return fmt.Errorf("instance cannot be nil")
	}
	if err := validateName(inst.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", inst.Name, err)
	}
	tmp := s.path(inst.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write instance %s: %w", inst.Name, err)
	}
	if err := os.Rename(tmp, s.path(inst.Name)); err != nil {
		return fmt.Errorf("failed to persist instance %s: %w", inst.Name, err)
	}
	return nil
}

func (s *FileStore) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Get(name string) (*Instance, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read instance %s: %w", name, err)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to parse instance %s: %w", name, err)
	}
	return &inst, nil
}

func (s *FileStore) List() ([]*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list instance store: %w", err)
	}

	var out []*Instance
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable instance record")
			continue
		}
		var inst Instance
		if err := json.Unmarshal(data, &inst); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping corrupt instance record")
			continue
		}
		out = append(out, &inst)
	}
	return out, nil
}
