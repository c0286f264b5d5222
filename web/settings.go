package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalUser is the only user until authentication exists
const LocalUser = "local"

// Settings are the per-user preferences
type Settings struct {
	DefaultEmailTo string `json:"default_email_to,omitempty"`
}

// SettingsStore keeps user settings in one JSON file keyed by user id
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore returns a store backed by path. The file is created on first save.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load returns the settings of userID; a missing file or user yields zero settings
func (s *SettingsStore) Load(userID string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return Settings{}, err
	}
	return all[userID], nil
}

// Save replaces the settings of userID, keeping other users intact
func (s *SettingsStore) Save(userID string, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// an unreadable file is overwritten
	all, err := s.readAll()
	if err != nil {
		all = make(map[string]Settings)
	}
	all[userID] = settings

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

func (s *SettingsStore) readAll() (map[string]Settings, error) {
	all := make(map[string]Settings)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	return all, nil
}
