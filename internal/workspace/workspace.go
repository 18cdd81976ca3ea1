package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/webapk/internal/logfields"
)

// Prefix names every ephemeral workspace so Prune never touches foreign directories.
const Prefix = "webapk-"

// Manager owns one ephemeral, timestamped workspace directory.
type Manager struct {
	baseDir string
	tempDir string
}

// NewManager creates a new workspace manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// Create creates a fresh unique workspace directory on every call.
func (m *Manager) Create() error {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace base directory: %w", err)
	}
	timestamp := time.Now().Format("20060102-150405")
	tempDir, err := os.MkdirTemp(m.baseDir, Prefix+timestamp+"-*")
	if err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	m.tempDir = tempDir
	slog.Debug("Created workspace", logfields.Path(tempDir))
	return nil
}

// GetPath returns the path to the workspace directory
func (m *Manager) GetPath() string {
	return m.tempDir
}

// Cleanup removes the workspace directory.
func (m *Manager) Cleanup() error {
	if m.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(m.tempDir); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}

	slog.Debug("Cleaned up workspace", logfields.Path(m.tempDir))
	m.tempDir = ""
	return nil
}

// Prune removes ephemeral workspaces under baseDir whose modification time is
// older than maxAge. It returns the number of directories removed.
func Prune(baseDir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list workspaces: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to prune workspace", logfields.Path(path), logfields.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
