package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FileAssertions provides utilities for asserting file system state in tests
type FileAssertions struct {
	t       *testing.T
	baseDir string
}

// NewFileAssertions creates a new file assertions helper
func NewFileAssertions(t *testing.T, baseDir string) *FileAssertions {
	return &FileAssertions{t: t, baseDir: baseDir}
}

// AssertFileExists validates that a file exists
func (fa *FileAssertions) AssertFileExists(relativePath string) *FileAssertions {
	fa.t.Helper()
	fullPath := filepath.Join(fa.baseDir, relativePath)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		fa.t.Errorf("Expected file to exist: %s", fullPath)
	}
	return fa
}

// AssertFileNotExists validates that a file does not exist
func (fa *FileAssertions) AssertFileNotExists(relativePath string) *FileAssertions {
	fa.t.Helper()
	fullPath := filepath.Join(fa.baseDir, relativePath)
	if _, err := os.Stat(fullPath); err == nil {
		fa.t.Errorf("Expected file to not exist: %s", fullPath)
	}
	return fa
}

// AssertDirExists validates that a directory exists
func (fa *FileAssertions) AssertDirExists(relativePath string) *FileAssertions {
	fa.t.Helper()
	fullPath := filepath.Join(fa.baseDir, relativePath)
	if stat, err := os.Stat(fullPath); os.IsNotExist(err) {
		fa.t.Errorf("Expected directory to exist: %s", fullPath)
	} else if err == nil && !stat.IsDir() {
		fa.t.Errorf("Expected %s to be a directory, but it's a file", fullPath)
	}
	return fa
}

// AssertFileContains validates that a file contains expected content
func (fa *FileAssertions) AssertFileContains(relativePath, expectedContent string) *FileAssertions {
	fa.t.Helper()
	content := fa.GetFileContent(relativePath)
	if !strings.Contains(content, expectedContent) {
		fa.t.Errorf("Expected file %s to contain %q\nActual content:\n%s", relativePath, expectedContent, content)
	}
	return fa
}

// AssertFileNotContains validates that a file does not contain content
func (fa *FileAssertions) AssertFileNotContains(relativePath, unexpected string) *FileAssertions {
	fa.t.Helper()
	content := fa.GetFileContent(relativePath)
	if strings.Contains(content, unexpected) {
		fa.t.Errorf("Expected file %s not to contain %q\nActual content:\n%s", relativePath, unexpected, content)
	}
	return fa
}

// ListDirs returns the names of the subdirectories of a directory
func (fa *FileAssertions) ListDirs(relativePath string) []string {
	fa.t.Helper()
	entries, err := os.ReadDir(filepath.Join(fa.baseDir, relativePath))
	if err != nil {
		fa.t.Logf("Failed to read directory %s: %v", relativePath, err)
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs
}

// GetFileContent reads and returns the content of a file
func (fa *FileAssertions) GetFileContent(relativePath string) string {
	fa.t.Helper()
	content, err := os.ReadFile(filepath.Join(fa.baseDir, relativePath))
	if err != nil {
		fa.t.Fatalf("Failed to read file %s: %v", relativePath, err)
	}
	return string(content)
}
