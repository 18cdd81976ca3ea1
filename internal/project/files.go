package project

import (
	"fmt"
	"os"
)

// ReplaceFile copies Source (an absolute path outside the tree) over Target
// (relative to the project root), creating parent directories.
type ReplaceFile struct {
	Source string
	Target string
}

func (op ReplaceFile) Kind() string { return "replace-file" }

func (op ReplaceFile) apply(t *Tree) (Outcome, error) {
	target := t.layout.abs(op.Target)
	if sameContent(op.Source, target) {
		return Outcome{Matched: true}, nil
	}
	data, err := os.ReadFile(op.Source)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s: %w", op.Source, err)
	}
	if err := writeFileAtomic(target, data, 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write %s: %w", t.rel(target), err)
	}
	return Outcome{Matched: true, Changed: []string{t.rel(target)}}, nil
}

// SyncDirectory makes Target (relative to the project root) an exact copy of
// Source. An empty Source leaves Target empty.
type SyncDirectory struct {
	Source string
	Target string
}

func (op SyncDirectory) Kind() string { return "sync-directory" }

func (op SyncDirectory) apply(t *Tree) (Outcome, error) {
	target := t.layout.abs(op.Target)
	if err := os.RemoveAll(target); err != nil {
		return Outcome{}, fmt.Errorf("clear %s: %w", t.rel(target), err)
	}
	if err := os.MkdirAll(target, 0o750); err != nil {
		return Outcome{}, fmt.Errorf("create %s: %w", t.rel(target), err)
	}
	if op.Source == "" {
		return Outcome{Changed: []string{t.rel(target)}}, nil
	}
	if err := copyTree(op.Source, target, map[string]bool{".git": true}); err != nil {
		return Outcome{}, fmt.Errorf("copy content into %s: %w", t.rel(target), err)
	}
	return Outcome{Matched: true, Changed: []string{t.rel(target)}}, nil
}

// RemoveFile deletes Target (relative to the project root) if it exists.
type RemoveFile struct {
	Target string
}

func (op RemoveFile) Kind() string { return "remove-file" }

func (op RemoveFile) apply(t *Tree) (Outcome, error) {
	target := t.layout.abs(op.Target)
	err := os.Remove(target)
	switch {
	case err == nil:
		return Outcome{Matched: true, Changed: []string{t.rel(target)}}, nil
	case os.IsNotExist(err):
		return Outcome{}, nil
	default:
		return Outcome{}, err
	}
}
