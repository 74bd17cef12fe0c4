package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pairpad/server/protocol"
)

// Store keeps the last state of evicted sessions so a later join can
// resume them.
type Store interface {
	Load(token string) (State, bool, error)
	Save(state State) error
}

// NopStore forgets sessions on eviction.
type NopStore struct{}

func (NopStore) Load(string) (State, bool, error) { return State{}, false, nil }
func (NopStore) Save(State) error                 { return nil }

// FileStore writes one JSON snapshot per session under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(token string) (string, error) {
	if !protocol.ValidToken(token) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, token)
	}
	return filepath.Join(s.dir, token+".json"), nil
}

func (s *FileStore) Load(token string) (State, bool, error) {
	path, err := s.path(token)
	if err != nil {
		return State{}, false, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("decode snapshot %s: %w", token, err)
	}
	if st.Token != token || !st.Language.IsValid() {
		return State{}, false, fmt.Errorf("snapshot %s is inconsistent", token)
	}
	return st, true, nil
}

func (s *FileStore) Save(st State) error {
	path, err := s.path(st.Token)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file then rename
	tmp, err := os.CreateTemp(s.dir, st.Token+"-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
