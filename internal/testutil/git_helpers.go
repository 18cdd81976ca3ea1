package testutil

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// SetupTestGitRepo initializes a repository holding files and commits them on
// the default branch. It returns the repository path.
func SetupTestGitRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to initialize git repo: %v", err)
	}
	CommitFiles(t, repo, dir, files, "initial")
	return dir
}

// CommitFiles writes files into the worktree at dir and commits them.
func CommitFiles(t *testing.T, repo *git.Repository, dir string, files map[string]string, msg string) {
	t.Helper()
	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	for rel, body := range files {
		WriteFile(t, dir, rel, body)
		if _, err := w.Add(rel); err != nil {
			t.Fatalf("failed to add %s: %v", rel, err)
		}
	}
	_, err = w.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "webapk test", Email: "test@example.invalid", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}
