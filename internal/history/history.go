// Package history persists assistant question/answer turns to a bounded JSON
// array file so conversations survive restarts.
//
// The file holds `[{"q": ..., "a": ...}, ...]` truncated to the newest
// MaxEntries turns. Writes go through an atomic temp-file replace; when the
// rename fails (some container filesystems reject cross-write renames) the
// store falls back to an in-place write with a logged warning.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// defaultMaxEntries bounds the persisted file when no limit is configured.
const defaultMaxEntries = 1000

// Turn is one question/answer exchange.
type Turn struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// Store is a file-backed turn log. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	path       string
	maxEntries int
}

// NewStore creates a Store writing to path. maxEntries <= 0 selects the
// default bound of 1000.
func NewStore(path string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Store{path: path, maxEntries: maxEntries}
}

// Load reads all persisted turns. A missing file yields an empty history; a
// corrupt file is treated as empty so one bad write cannot brick the
// assistant.
func (s *Store) Load() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() []Turn {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("history: read failed, starting empty", "path", s.path, "error", err)
		}
		return nil
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		slog.Warn("history: corrupt file, starting empty", "path", s.path, "error", err)
		return nil
	}
	return turns
}

// Append adds one turn and rewrites the file, keeping only the newest
// maxEntries turns.
func (s *Store) Append(q, a string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.load(), Turn{Q: q, A: a})
	if len(turns) > s.maxEntries {
		turns = turns[len(turns)-s.maxEntries:]
	}
	return s.write(turns)
}

// Tail returns the newest n turns, oldest first.
func (s *Store) Tail(n int) []Turn {
	turns := s.Load()
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func (s *Store) write(turns []Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("history: create dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err == nil {
		if err := os.Rename(tmp, s.path); err == nil {
			return nil
		}
		os.Remove(tmp)
		slog.Warn("history: atomic replace failed, writing in place", "path", s.path)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}
