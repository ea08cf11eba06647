// Package store persists session descriptors so streams can be decoded and
// sessions restored after a restart.
package store

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/foveanode/internal/config"
)

// Descriptor records what is needed to recreate a session and to decode
// its output.
type Descriptor struct {
	ID        string           `toml:"id" json:"id"`
	Width     int              `toml:"width" json:"width"`
	Height    int              `toml:"height" json:"height"`
	Sink      string           `toml:"sink,omitempty" json:"sink,omitempty"`
	Overrides config.Overrides `toml:"overrides" json:"overrides"`
	CreatedAt time.Time        `toml:"created_at" json:"created_at"`
}

// Store persists descriptors.
type Store interface {
	Load() error
	Save() error
	Put(d Descriptor) error
	Remove(id string) error
	Get(id string) (Descriptor, bool)
	All() map[string]Descriptor
}

// file represents the complete sessions file for TOML marshaling.
type file struct {
	Version  int                   `toml:"version"`
	Sessions map[string]Descriptor `toml:"sessions"`
}

// tomlStore implements Store using TOML file storage.
type tomlStore struct {
	mu   sync.RWMutex
	path string
	data *file
}

// NewTOML creates a new TOML-based store.
func NewTOML(path string) Store {
	if path == "" {
		path = "sessions.toml"
	}
	return &tomlStore{
		path: path,
		data: &file{Version: 1, Sessions: make(map[string]Descriptor)},
	}
}

// Load reads the sessions file. A missing file leaves the store empty.
func (s *tomlStore) Load() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read sessions file: %w", err)
	}

	loaded := &file{}
	if err := toml.Unmarshal(raw, loaded); err != nil {
		return fmt.Errorf("failed to parse sessions file: %w", err)
	}
	if loaded.Sessions == nil {
		loaded.Sessions = make(map[string]Descriptor)
	}
	if loaded.Version == 0 {
		loaded.Version = 1
	}

	s.mu.Lock()
	s.data = loaded
	s.mu.Unlock()
	return nil
}

// Save writes the sessions file.
func (s *tomlStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.save()
}

func (s *tomlStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	raw, err := toml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write sessions file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace sessions file: %w", err)
	}
	return nil
}

// Put adds or replaces a descriptor.
func (s *tomlStore) Put(d Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Sessions[d.ID] = d
	return s.save()
}

// Remove deletes a descriptor. Removing an unknown id is not an error.
func (s *tomlStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Sessions[id]; !ok {
		return nil
	}
	delete(s.data.Sessions, id)
	return s.save()
}

// Get returns a descriptor by id.
func (s *tomlStore) Get(id string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data.Sessions[id]
	return d, ok
}

// All returns a copy of every descriptor.
func (s *tomlStore) All() map[string]Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data.Sessions)
}
