package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"adunlock/models"
)

// DocumentStore keeps the state in process memory, optionally mirrored to a
// JSON file. A single mutex serializes writers; readers share an RLock.
type DocumentStore struct {
	mu     sync.RWMutex
	path   string
	state  *models.State
	closed bool
}

func NewMemoryStore() *DocumentStore {
	return &DocumentStore{state: models.NewState()}
}

// OpenFileStore loads path, or starts empty if it does not exist yet.
// A file that exists but cannot be decoded is an error.
func OpenFileStore(path string) (*DocumentStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	state, err := readStateFile(path)
	if err != nil {
		return nil, err
	}
	return &DocumentStore{path: path, state: state}, nil
}

func (s *DocumentStore) Path() string {
	return s.path
}

func (s *DocumentStore) Update(ctx context.Context, fn func(state *models.State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	next := s.state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if s.path != "" {
		if err := writeStateFile(s.path, next); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

func (s *DocumentStore) View(ctx context.Context, fn func(state *models.State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.state)
}

func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func readStateFile(path string) (*models.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.NewState(), nil
		}
		return nil, err
	}
	state := models.NewState()
	if len(strings.TrimSpace(string(data))) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	state.Normalize()
	return state, nil
}

// writeStateFile replaces path atomically: write a temp file in the same
// directory, fsync it, then rename over the target.
func writeStateFile(path string, state *models.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
