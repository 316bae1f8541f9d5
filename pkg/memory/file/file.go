// Package file provides a JSON-file-backed memory store.
//
// The whole memory document is rewritten on every append with an atomic
// replace (temp file + rename) so a crash mid-write can never leave a
// half-written memory file behind.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/memory"
)

// DefaultFileName is the memory file created under the .unreal/ directory
// when no explicit path is configured.
const DefaultFileName = "chat_memory.json"

// document is the on-disk layout: one turn log per session.
type document struct {
	Sessions map[string][]chat.Turn `json:"sessions"`
}

// Store implements memory.Store on a single JSON file.
type Store struct {
	path     string
	maxTurns int

	mu       sync.RWMutex
	sessions map[string][]chat.Turn
}

// NewStore opens (or initializes) the memory file at path, bounded to
// maxTurns per session. An unreadable or malformed existing file is treated
// as empty rather than fatal, since memory is an aid, not a dependency.
func NewStore(path string, maxTurns int) (*Store, error) {
	if maxTurns <= 0 {
		return nil, fmt.Errorf("maxTurns must be positive, got %d", maxTurns)
	}

	s := &Store{
		path:     path,
		maxTurns: maxTurns,
		sessions: make(map[string][]chat.Turn),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run. The file is created on the first append.
	case err != nil:
		return nil, fmt.Errorf("reading memory file: %w", err)
	default:
		var doc document
		if jsonErr := json.Unmarshal(data, &doc); jsonErr == nil && doc.Sessions != nil {
			for session, turns := range doc.Sessions {
				s.sessions[session] = memory.Clip(turns, maxTurns)
			}
		}
	}

	return s, nil
}

// Append adds the turn to the session window, evicts beyond the bound, and
// rewrites the file. A write failure returns an error wrapping
// memory.ErrDegraded with the window already updated.
func (s *Store) Append(_ context.Context, session string, turn chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session] = memory.Clip(append(s.sessions[session], turn), s.maxTurns)

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("%w: %w", memory.ErrDegraded, err)
	}

	return nil
}

// Recent returns up to the last k turns of the session, oldest-first.
func (s *Store) Recent(_ context.Context, session string, k int) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := memory.Clip(s.sessions[session], k)

	// Return a copy so callers cannot mutate the window.
	out := make([]chat.Turn, len(window))
	copy(out, window)

	return out, nil
}

// Close is a no-op: every append already persisted synchronously.
func (s *Store) Close() error {
	return nil
}

// persistLocked writes the whole document with an atomic replace.
// Callers must hold the write lock.
func (s *Store) persistLocked() error {
	doc := document{Sessions: s.sessions}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling memory: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmpFile, err := os.CreateTemp(dir, "chat-memory-*.json")
	if err != nil {
		return fmt.Errorf("creating temp memory file: %w", err)
	}

	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("chmod temp memory file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("writing temp memory file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("closing temp memory file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), s.path); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("persisting memory file: %w", err)
	}

	return nil
}
