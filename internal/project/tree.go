package project

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"git.home.luguber.info/inful/webapk/internal/logfields"
)

// Tree is the shared, mutable Android project. It is not safe for concurrent
// mutation; the build coordinator's single worker is its only writer.
type Tree struct {
	layout Layout
}

// Open returns a Tree for an existing project directory.
func Open(layout Layout) (*Tree, error) {
	abs, err := filepath.Abs(layout.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	layout.Root = abs
	return &Tree{layout: layout}, nil
}

// Layout returns the tree's layout with an absolute Root.
func (t *Tree) Layout() Layout { return t.layout }

// Root returns the absolute project root.
func (t *Tree) Root() string { return t.layout.Root }

// Path resolves a path relative to the project root.
func (t *Tree) Path(rel string) string { return t.layout.abs(rel) }

// ArtifactPath is the absolute location the toolchain writes its release package to.
func (t *Tree) ArtifactPath() string { return t.layout.abs(t.layout.ArtifactPath) }

// PackageDirs lists the package directory names below the namespace directory, sorted.
func (t *Tree) PackageDirs() ([]string, error) {
	entries, err := os.ReadDir(t.layout.namespaceDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list package directories: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

var (
	gradleAppIDPattern     = regexp.MustCompile(`(?m)^\s*applicationId\s*(?:=\s*)?["']([\w.]+)["']`)
	gradleNamespacePattern = regexp.MustCompile(`(?m)^\s*namespace\s*(?:=\s*)?["']([\w.]+)["']`)
)

// DescriptorPackageID reads the package id declared by the build descriptor,
// falling back to the manifest package attribute. It returns "" if neither declares one.
func (t *Tree) DescriptorPackageID() (string, error) {
	data, err := os.ReadFile(t.layout.abs(t.layout.Descriptor))
	switch {
	case err == nil:
		if m := gradleAppIDPattern.FindSubmatch(data); m != nil {
			return string(m[1]), nil
		}
		if m := gradleNamespacePattern.FindSubmatch(data); m != nil {
			return string(m[1]), nil
		}
	case !os.IsNotExist(err):
		return "", fmt.Errorf("read build descriptor: %w", err)
	}
	return t.manifestPackage()
}

func (t *Tree) manifestPackage() (string, error) {
	f, err := os.Open(t.layout.abs(t.layout.Manifest))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("parse manifest: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			for _, a := range se.Attr {
				if a.Name.Local == "package" && a.Name.Space == "" {
					return a.Value, nil
				}
			}
			return "", nil
		}
	}
}

// Outcome reports what an operation changed.
type Outcome struct {
	// Changed lists the project-relative paths that were written or removed.
	Changed []string
	// Matched is false when the operation found nothing to act on
	// (e.g. no declaration of a constant, no string resource with the key).
	Matched bool
}

// Operation is a typed mutation of the tree. Operations are only executed by Tree.Apply.
type Operation interface {
	Kind() string
	apply(t *Tree) (Outcome, error)
}

// Apply executes op against the tree. It is the only path by which the tree is mutated.
func (t *Tree) Apply(ctx context.Context, op Operation) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	start := time.Now()
	out, err := op.apply(t)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op.Kind(), err)
	}
	slog.DebugContext(ctx, "Applied project operation",
		slog.String("operation", op.Kind()),
		slog.Bool("matched", out.Matched),
		slog.Int("changed", len(out.Changed)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return out, nil
}

func (t *Tree) rel(abs string) string {
	if r, err := filepath.Rel(t.layout.Root, abs); err == nil {
		return filepath.ToSlash(r)
	}
	return abs
}
