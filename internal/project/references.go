package project

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// referenceExts are the file types that may mention the package id.
var referenceExts = map[string]bool{
	".java": true, ".kt": true, ".xml": true, ".gradle": true, ".kts": true, ".pro": true,
}

// skipDirs are never scanned for references: generated output and bundled web content.
var skipDirs = map[string]bool{"build": true, ".gradle": true, ".git": true, "assets": true}

// RewriteReferences replaces every occurrence of the package id for From with
// the id for To in source, resource and build files of the app module.
type RewriteReferences struct {
	From string
	To   string
}

func (op RewriteReferences) Kind() string { return "rewrite-references" }

func (op RewriteReferences) apply(t *Tree) (Outcome, error) {
	if op.From == op.To || op.From == "" {
		return Outcome{}, nil
	}
	pattern := t.referencePattern(op.From)
	replacement := []byte("${1}" + t.layout.PackageID(op.To))

	var changed []string
	err := t.walkModule(func(path string) error {
		if !referenceExts[filepath.Ext(path)] {
			return nil
		}
		wrote, err := rewriteFile(path, func(data []byte) ([]byte, error) {
			return pattern.ReplaceAll(data, replacement), nil
		})
		if err != nil {
			return fmt.Errorf("rewrite %s: %w", t.rel(path), err)
		}
		if wrote {
			changed = append(changed, t.rel(path))
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Changed: changed, Matched: len(changed) > 0}, nil
}

// referencePattern matches the full package id of appID when it is not part of
// a longer dotted name. Group 1 captures the preceding character.
func (t *Tree) referencePattern(appID string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^\w.])` + regexp.QuoteMeta(t.layout.PackageID(appID)) + `\b`)
}

// ContainsReference reports the module files still mentioning appID's package id.
func (t *Tree) ContainsReference(appID string) ([]string, error) {
	pattern := t.referencePattern(appID)
	var hits []string
	err := t.walkModule(func(path string) error {
		if !referenceExts[filepath.Ext(path)] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if pattern.Match(data) {
			hits = append(hits, t.rel(path))
		}
		return nil
	})
	return hits, err
}

// walkModule visits the regular files of the app module in lexical order.
func (t *Tree) walkModule(fn func(path string) error) error {
	root := t.layout.abs(t.layout.Module)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// RenamePackage rewrites references from one app id to another and moves the
// package directory. A missing source directory is skipped, not failed.
type RenamePackage struct {
	From string
	To   string
}

func (op RenamePackage) Kind() string { return "rename-package" }

func (op RenamePackage) apply(t *Tree) (Outcome, error) {
	if op.From == op.To || op.From == "" {
		return Outcome{}, nil
	}
	out, err := RewriteReferences(op).apply(t)
	if err != nil {
		return out, err
	}

	src, dst := t.layout.PackageDir(op.From), t.layout.PackageDir(op.To)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, err
	}
	if _, err := os.Stat(dst); err == nil {
		return out, fmt.Errorf("target package directory %s already exists", t.rel(dst))
	}
	if err := os.Rename(src, dst); err != nil {
		return out, fmt.Errorf("move package directory: %w", err)
	}
	out.Changed = append(out.Changed, t.rel(src), t.rel(dst))
	out.Matched = true
	return out, nil
}
