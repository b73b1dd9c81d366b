// Package store provides crash-safe session persistence using JSON files.
//
// Each symbol's session state is stored as a separate file:
// session_<symbol>.json. Writes use atomic file replacement (write to .tmp,
// then rename) to prevent corruption from partial writes or crashes
// mid-save. The lifecycle engine saves on shutdown and loads on startup; the
// loaded state is only logged, and each run's session volume starts from zero.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// SessionState is the persisted view of one symbol's trading session.
type SessionState struct {
	Symbol        string                 `json:"symbol"`
	SessionVolume float64                `json:"session_volume"`
	LastPosition  types.PositionSnapshot `json:"last_position"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Store persists session state to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SaveSession atomically persists the session state for a symbol.
func (s *Store) SaveSession(state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	path := filepath.Join(s.dir, "session_"+state.Symbol+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSession restores session state for a symbol from disk.
// Returns nil, nil if no saved session exists (fresh start).
func (s *Store) LoadSession(symbol string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "session_"+symbol+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &state, nil
}
