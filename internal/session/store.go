package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// State is the persisted authentication state: an opaque browser
// storage-state blob plus bookkeeping. The Authenticator decides staleness;
// the store only persists and restores.
type State struct {
	SavedAt time.Time       `json:"saved_at"`
	Valid   bool            `json:"valid"`
	Storage json.RawMessage `json:"storage"`
}

// Store persists at most one session state on disk.
type Store struct {
	fs   afero.Fs
	path string
}

func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Load returns the stored state, or nil when no usable state exists.
// Corruption is never an error for the caller: a broken file simply means a
// full login is required.
func (s *Store) Load() (*State, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil || len(data) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("Stored session state is corrupt, ignoring", "path", s.path, "error", err)
		return nil, nil
	}
	if len(state.Storage) == 0 || !hasCookies(state.Storage) {
		return nil, nil
	}
	return &state, nil
}

// Save writes the state atomically: the blob is written to a temp file in the
// same directory and renamed over the target, so a crash mid-write leaves the
// previous state intact.
func (s *Store) Save(state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := afero.TempFile(s.fs, dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer s.fs.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp session file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp session file: %w", err)
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace session file %s: %w", s.path, err)
	}
	return nil
}

// Invalidate marks the current state unusable without deleting the file, so a
// later successful login can overwrite it in place.
func (s *Store) Invalidate() error {
	state, err := s.Load()
	if err != nil || state == nil {
		return nil
	}
	state.Valid = false
	return s.Save(state)
}

// hasCookies checks that the opaque blob looks like a browser storage state
// with at least one cookie; anything else is treated as unusable.
func hasCookies(raw json.RawMessage) bool {
	var probe struct {
		Cookies []json.RawMessage `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe.Cookies) > 0
}
