// Package statefile keeps the active book between runs in a single JSON file.
package statefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"cross-matching-engine/src/engine"
)

// clearedState is written over the file once its contents have been loaded.
var clearedState = []byte("{}")

type Store struct {
	path string
	log  *zap.Logger
}

func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Load reads the saved book. It reports false when the file is missing, empty
// or cannot be decoded; none of those are errors. After a successful load the
// file is cleared so the same orders are never restored twice.
func (s *Store) Load() (engine.BookState, bool) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("no saved book state", zap.String("path", s.path))
		return engine.BookState{}, false
	}
	if err != nil {
		s.log.Warn("failed to read saved book state", zap.String("path", s.path), zap.Error(err))
		return engine.BookState{}, false
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, clearedState) {
		return engine.BookState{}, false
	}

	var state engine.BookState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("saved book state is corrupt", zap.String("path", s.path), zap.Error(err))
		return engine.BookState{}, false
	}
	if state.IsEmpty() {
		return engine.BookState{}, false
	}

	if err := s.write(clearedState); err != nil {
		s.log.Warn("failed to clear saved book state", zap.String("path", s.path), zap.Error(err))
	}
	return state, true
}

// Save writes state to the file. An empty book leaves the file untouched.
func (s *Store) Save(state engine.BookState) error {
	if state.IsEmpty() {
		s.log.Info("book is empty, nothing to save")
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal book state: %w", err)
	}
	if err := s.write(data); err != nil {
		return err
	}
	s.log.Info("book state saved",
		zap.String("path", s.path),
		zap.Int("ask_levels", len(state.Asks)),
		zap.Int("bid_levels", len(state.Bids)),
		zap.Int("stop_orders", len(state.StopOrders)))
	return nil
}

// write replaces the file through a temp file and rename.
func (s *Store) write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
