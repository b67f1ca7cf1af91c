// Package store is the widget's durable local key/value persistence:
// the visitor identity token, the contact profile, the active session
// identifier and the sound preference survive process restarts the way
// browser localStorage survives reloads.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// state is the on-disk document. A missing or corrupt file means an empty
// state; no validation is performed on stored values.
type state struct {
	VisitorID    string `json:"visitorId,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	ClientName   string `json:"clientName,omitempty"`
	ClientEmail  string `json:"clientEmail,omitempty"`
	ClientPhone  string `json:"clientPhone,omitempty"`
	SoundEnabled *bool  `json:"soundEnabled,omitempty"`
}

// Store is a synchronous file-backed key/value store. Every setter persists
// immediately; persistence failures are returned but callers generally treat
// them as best-effort (the in-memory value is kept either way).
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	path string

	mu sync.Mutex
	st state
}

// Open loads the store at path, creating parent directories as needed.
// A missing or unreadable file yields an empty store rather than an error.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, nil
	}
	// Corrupt state is discarded, not fatal.
	_ = json.Unmarshal(data, &s.st)
	return s, nil
}

// VisitorID returns the persisted visitor identity token, if any.
func (s *Store) VisitorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.VisitorID
}

// SetVisitorID persists the visitor identity token.
func (s *Store) SetVisitorID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.VisitorID = id
	return s.persistLocked()
}

// SessionID returns the persisted active session identifier, if any.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SessionID
}

// SetSessionID persists the active session identifier.
func (s *Store) SetSessionID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.SessionID = id
	return s.persistLocked()
}

// Profile returns the persisted contact fields.
func (s *Store) Profile() (name, email, phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ClientName, s.st.ClientEmail, s.st.ClientPhone
}

// SetProfile persists the contact fields.
func (s *Store) SetProfile(name, email, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ClientName = name
	s.st.ClientEmail = email
	s.st.ClientPhone = phone
	return s.persistLocked()
}

// SoundEnabled returns the persisted sound preference, or def when the
// visitor never toggled it.
func (s *Store) SoundEnabled(def bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.SoundEnabled == nil {
		return def
	}
	return *s.st.SoundEnabled
}

// SetSoundEnabled persists the sound preference.
func (s *Store) SetSoundEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.SoundEnabled = &enabled
	return s.persistLocked()
}

// persistLocked writes the state atomically (temp file + rename) so a crash
// mid-write never leaves a truncated document behind.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
