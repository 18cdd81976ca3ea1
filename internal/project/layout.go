package project

import (
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/webapk/internal/config"
)

// Layout locates the parts of the project tree, relative to Root.
type Layout struct {
	Root         string
	Module       string
	JavaRoot     string
	Namespace    string
	Suffix       string
	Descriptor   string
	Manifest     string
	ResDir       string
	AssetsDir    string
	IconPath     string
	EntryFile    string
	ArtifactPath string
}

// LayoutFromConfig converts the project configuration section.
func LayoutFromConfig(c config.ProjectConfig) Layout {
	return Layout{
		Root:         c.Root,
		Module:       c.Module,
		JavaRoot:     c.JavaRoot,
		Namespace:    c.Namespace,
		Suffix:       c.Suffix,
		Descriptor:   c.Descriptor,
		Manifest:     c.Manifest,
		ResDir:       c.ResDir,
		AssetsDir:    c.AssetsDir,
		IconPath:     c.IconPath,
		EntryFile:    c.EntryFile,
		ArtifactPath: c.ArtifactPath,
	}
}

// PackageID returns the dotted package id for appID.
func (l Layout) PackageID(appID string) string {
	return l.Namespace + "." + appID + "." + l.Suffix
}

// AppIDFromPackageID extracts the app id segment of a fully qualified id.
func (l Layout) AppIDFromPackageID(pkg string) (string, bool) {
	prefix, suffix := l.Namespace+".", "."+l.Suffix
	if !strings.HasPrefix(pkg, prefix) || !strings.HasSuffix(pkg, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(pkg, prefix), suffix)
	if id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// namespaceDir is the directory whose children are the package directories.
func (l Layout) namespaceDir() string {
	parts := append([]string{l.Root, l.JavaRoot}, strings.Split(l.Namespace, ".")...)
	return filepath.Join(parts...)
}

// PackageDir returns the absolute directory of appID's package.
func (l Layout) PackageDir(appID string) string {
	return filepath.Join(l.namespaceDir(), appID)
}

func (l Layout) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.Root, rel)
}
