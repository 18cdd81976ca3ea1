package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_EphemeralMode(t *testing.T) {
	tempBase := t.TempDir()
	mgr := NewManager(tempBase)

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	wsPath := mgr.GetPath()
	if wsPath == "" {
		t.Fatal("GetPath() returned empty string")
	}
	if !strings.HasPrefix(filepath.Base(wsPath), Prefix) {
		t.Errorf("Expected prefixed directory, got: %s", wsPath)
	}
	if _, err := os.Stat(wsPath); os.IsNotExist(err) {
		t.Errorf("Workspace directory does not exist: %s", wsPath)
	}

	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if _, err := os.Stat(wsPath); !os.IsNotExist(err) {
		t.Errorf("Workspace directory still exists after cleanup: %s", wsPath)
	}
}

func TestManager_EphemeralUnique(t *testing.T) {
	base := t.TempDir()
	a, b := NewManager(base), NewManager(base)
	if err := a.Create(); err != nil {
		t.Fatal(err)
	}
	if err := b.Create(); err != nil {
		t.Fatal(err)
	}
	if a.GetPath() == b.GetPath() {
		t.Fatalf("two workspaces created in the same second share a path: %s", a.GetPath())
	}
}

func TestPrune(t *testing.T) {
	base := t.TempDir()
	old := filepath.Join(base, Prefix+"old")
	fresh := filepath.Join(base, Prefix+"fresh")
	foreign := filepath.Join(base, "keep-me")
	for _, d := range []string{old, fresh, foreign} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(foreign, past, past); err != nil {
		t.Fatal(err)
	}

	n, err := Prune(base, 24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned workspace, got %d", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old workspace should be removed")
	}
	for _, d := range []string{fresh, foreign} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("%s should survive: %v", d, err)
		}
	}
}

func TestPruneMissingBase(t *testing.T) {
	n, err := Prune(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
}
