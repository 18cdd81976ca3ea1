package git

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/retry"
	"git.home.luguber.info/inful/webapk/internal/testutil"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(t.TempDir(), 0, retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2))
}

func TestSyncClonesIntoCache(t *testing.T) {
	src := testutil.SetupTestGitRepo(t, map[string]string{
		"index.html":     "<html><head><title>Docs</title></head></html>",
		"assets/app.css": "body{}",
	})
	client := testClient(t)

	dir, err := client.Sync(t.Context(), src, "")
	require.NoError(t, err)
	assert.Equal(t, client.CheckoutDir(src, ""), dir)
	testutil.NewFileAssertions(t, dir).
		AssertFileExists("index.html").
		AssertFileExists("assets/app.css")
}

func TestSyncUpdatesExistingCheckout(t *testing.T) {
	src := testutil.SetupTestGitRepo(t, map[string]string{"index.html": "v1"})
	srcRepo, err := git.PlainOpen(src)
	require.NoError(t, err)
	head, err := srcRepo.Head()
	require.NoError(t, err)
	branch := head.Name().Short()

	client := testClient(t)
	dir, err := client.Sync(t.Context(), src, branch)
	require.NoError(t, err)

	// Local edits in the cache are discarded on the next sync.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("local"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o600))

	testutil.CommitFiles(t, srcRepo, src, map[string]string{"index.html": "v2", "new.html": "added"}, "second")

	again, err := client.Sync(t.Context(), src, branch)
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	testutil.NewFileAssertions(t, dir).
		AssertFileExists("new.html").
		AssertFileNotExists("stray.txt")
}

func TestSyncRecoversFromBrokenCache(t *testing.T) {
	src := testutil.SetupTestGitRepo(t, map[string]string{"index.html": "ok"})
	client := testClient(t)

	dir := client.CheckoutDir(src, "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o750))

	got, err := client.Sync(t.Context(), src, "")
	require.NoError(t, err)
	testutil.NewFileAssertions(t, got).AssertFileExists("index.html")
}

func TestSyncMissingRemote(t *testing.T) {
	client := testClient(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	_, err := client.Sync(t.Context(), missing, "main")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryGit))
	_, statErr := os.Stat(client.CheckoutDir(missing, "main"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportCopiesWorktree(t *testing.T) {
	src := testutil.SetupTestGitRepo(t, map[string]string{
		"index.html":     "<title>Site</title>",
		"assets/app.css": "body{}",
	})
	client := testClient(t)
	dest := t.TempDir()

	require.NoError(t, client.Export(t.Context(), src, "", dest))
	testutil.NewFileAssertions(t, dest).
		AssertFileContains("index.html", "Site").
		AssertFileExists("assets/app.css").
		AssertFileNotExists(".git")
	testutil.NewFileAssertions(t, client.CheckoutDir(src, "")).AssertDirExists(".git")
}

func TestConcurrentExportsOfOneRepository(t *testing.T) {
	src := testutil.SetupTestGitRepo(t, map[string]string{"index.html": "same"})
	client := testClient(t)

	const n = 6
	dests := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		dests[i] = t.TempDir()
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = client.Export(t.Context(), src, "", dests[i])
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		data, err := os.ReadFile(filepath.Join(dests[i], "index.html"))
		require.NoError(t, err)
		assert.Equal(t, "same", string(data))
	}
}

func TestCheckoutDirDependsOnBranch(t *testing.T) {
	client := NewClient("/cache", 1, retry.DefaultPolicy())
	a := client.CheckoutDir("https://example.com/site.git", "main")
	b := client.CheckoutDir("https://example.com/site.git", "gh-pages")
	assert.NotEqual(t, a, b)
	assert.Equal(t, filepath.Join("/cache", "git"), filepath.Dir(a))
}

func TestClassifyGitError(t *testing.T) {
	tests := []struct {
		msg       string
		reason    string
		retryable bool
	}{
		{"authentication required", "auth", false},
		{"repository not found", "not_found", false},
		{"unsupported protocol scheme", "protocol", false},
		{"429 too many requests", "rate_limit", true},
		{"read tcp: i/o timeout", "network", true},
		{"something odd", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := ClassifyGitError(stdErrors.New(tt.msg), "clone", "https://example.com/x.git")
			ce, ok := errors.AsClassified(err)
			require.True(t, ok)
			assert.Equal(t, errors.CategoryGit, ce.Category())
			reason, _ := ce.Context().GetString("reason")
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.retryable, isRetryable(err))
		})
	}

	assert.NoError(t, ClassifyGitError(nil, "clone", "x"))
	already := errors.ContentError("bad").Build()
	assert.Same(t, already, ClassifyGitError(already, "clone", "x"))
}
