package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SessionStore maps session keys (channel:chat_id and internal keys
// like system:heartbeat) to engine session identifiers. The map is
// snapshotted to disk after every mutation so sessions survive
// restarts.
type SessionStore struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]string
}

func NewSessionStore(path string) *SessionStore {
	return &SessionStore{
		path:     path,
		sessions: make(map[string]string),
	}
}

// Load replaces in-memory state with the snapshot on disk. A missing
// file is not an error; the store simply starts empty.
func (s *SessionStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read sessions: %w", err)
	}

	sessions := make(map[string]string)
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("parse sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = sessions

	return nil
}

func (s *SessionStore) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessions[key]
}

func (s *SessionStore) Set(key string, sessionID string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	if strings.TrimSpace(sessionID) == "" {
		delete(s.sessions, key)
	} else {
		s.sessions[key] = sessionID
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return s.save(snapshot)
}

// Delete drops the session for key, forcing the next prompt under
// that key to start fresh.
func (s *SessionStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.sessions, key)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return s.save(snapshot)
}

func (s *SessionStore) snapshotLocked() map[string]string {
	out := make(map[string]string, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return out
}

func (s *SessionStore) save(snapshot map[string]string) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace sessions: %w", err)
	}

	return nil
}
