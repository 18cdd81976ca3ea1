// Package baseline persists the recorded configuration of the shared project
// tree: the app id it is patched to, the outcome of the last build and the
// pending-rename journal marker.
package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the state file written inside the state directory.
const FileName = "baseline.json"

// State is the cached view of the tree. It is only a cache: the recovery
// supervisor re-derives CurrentAppID from disk before every build.
type State struct {
	// CurrentAppID is the app id the tree is patched to; empty means unknown.
	CurrentAppID       string `json:"current_app_id,omitempty"`
	LastBuildSucceeded bool   `json:"last_build_succeeded"`
	// LastKnownGoodPath is the artifact of the last successful build.
	LastKnownGoodPath string `json:"last_known_good_path,omitempty"`
	// PendingAppID is set before a package rename and cleared once it completed.
	PendingAppID string `json:"pending_app_id,omitempty"`
	// Defaults holds the right-hand side each source constant had before the
	// first build overwrote it, keyed by constant name.
	Defaults  map[string]string `json:"defaults,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Known reports whether the current app id has been recorded.
func (s State) Known() bool { return s.CurrentAppID != "" }

// Store reads and writes State as JSON with atomic replacement.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore returns a store writing to dir/baseline.json.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, FileName), now: time.Now}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load returns the persisted state, or the zero State if none was saved yet.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUnsafe()
}

func (s *Store) loadUnsafe() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read baseline state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal baseline state: %w", err)
	}
	return st, nil
}

// Save persists st, stamping UpdatedAt.
func (s *Store) Save(st State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveUnsafe(st)
}

func (s *Store) saveUnsafe(st State) (State, error) {
	st.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return st, fmt.Errorf("failed to marshal baseline state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return st, fmt.Errorf("failed to create state directory: %w", err)
	}

	// Atomic write using temporary file
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return st, fmt.Errorf("failed to write temporary baseline state: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return st, fmt.Errorf("failed to replace baseline state: %w", err)
	}
	return st, nil
}

// Update loads the state, applies fn and saves the result.
func (s *Store) Update(fn func(*State)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadUnsafe()
	if err != nil {
		return st, err
	}
	fn(&st)
	return s.saveUnsafe(st)
}
