package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore keeps all accounts in a single JSON object on disk. Every call
// loads the whole file; writes replace it via a temp file and rename.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

func OpenJSON(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &JSONStore{path: path}, nil
}

// Load returns the full mapping; a missing file is an empty mapping.
func (s *JSONStore) Load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	m := map[string]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	// a file holding JSON null decodes to a nil map
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// Save overwrites the persisted mapping.
func (s *JSONStore) Save(m map[string]string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONStore) Get(ctx context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.Load()
	if err != nil {
		return "", err
	}
	h, ok := m[username]
	if !ok {
		return "", ErrNotFound
	}
	return h, nil
}

func (s *JSONStore) PutIfAbsent(ctx context.Context, username, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.Load()
	if err != nil {
		return err
	}
	if _, ok := m[username]; ok {
		return ErrDuplicateUser
	}
	m[username] = hash
	return s.Save(m)
}

func (s *JSONStore) Close() error { return nil }
