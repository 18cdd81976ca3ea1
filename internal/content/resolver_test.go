package content

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/git"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/retry"
	"git.home.luguber.info/inful/webapk/internal/testutil"
	"git.home.luguber.info/inful/webapk/internal/workspace"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

type fakeExporter struct {
	files map[string]string
	err   error
	calls int
}

func (f *fakeExporter) Export(_ context.Context, _, _, dest string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for rel, body := range f.files {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(dest, rel)), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dest, rel), []byte(body), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func TestResolveArchive(t *testing.T) {
	staging := t.TempDir()
	archive := writeZip(t, map[string]string{
		"site/docs/index.html": "<html><head><title>Nested</title></head></html>",
		"site/index.htm":       "<html><head><title>  My\n Site </title></head><body></body></html>",
		"site/app.js":          "console.log(1)",
	})

	r := NewResolver(staging, nil)
	site, err := r.Resolve(t.Context(), request.ContentSource{Kind: request.ContentArchive, ArchivePath: archive})
	require.NoError(t, err)

	assert.True(t, site.Ephemeral)
	assert.Equal(t, staging, filepath.Dir(site.Dir))
	assert.True(t, strings.HasPrefix(filepath.Base(site.Dir), workspace.Prefix))
	assert.Equal(t, "https://appassets.androidplatform.net/assets/site/index.htm", site.EntryURL)
	assert.Equal(t, "My Site", site.Title)
	testutil.NewFileAssertions(t, site.Dir).
		AssertFileExists("site/app.js").
		AssertFileExists("site/docs/index.html")
}

func TestResolveArchiveRejectsTraversal(t *testing.T) {
	staging := t.TempDir()
	archive := writeZip(t, map[string]string{
		"index.html":    "<html></html>",
		"../escape.txt": "nope",
	})

	_, err := NewResolver(staging, nil).Resolve(t.Context(), request.ContentSource{Kind: request.ContentArchive, ArchivePath: archive})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryContent))

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed extraction must not leave a workspace behind")
	_, statErr := os.Stat(filepath.Join(filepath.Dir(staging), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestResolveArchiveWithoutEntry(t *testing.T) {
	archive := writeZip(t, map[string]string{"readme.txt": "hi"})

	_, err := NewResolver(t.TempDir(), nil).Resolve(t.Context(), request.ContentSource{Kind: request.ContentArchive, ArchivePath: archive})
	require.Error(t, err)
	assert.Equal(t, errors.StageValidation, errors.GetStage(err, ""))
}

func TestResolveGitBundled(t *testing.T) {
	exporter := &fakeExporter{files: map[string]string{"public/start.html": "<title>Repo Site</title>"}}
	staging := t.TempDir()

	r := NewResolver(staging, exporter)
	site, err := r.Resolve(t.Context(), request.ContentSource{
		Kind:     request.ContentGit,
		GitURL:   "https://example.com/user/site.git",
		GitEntry: "/public/start.html",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, exporter.calls)
	assert.Equal(t, staging, filepath.Dir(site.Dir))
	assert.True(t, strings.HasPrefix(filepath.Base(site.Dir), workspace.Prefix))
	assert.True(t, site.Ephemeral)
	assert.Equal(t, "https://appassets.androidplatform.net/assets/public/start.html", site.EntryURL)
	assert.Equal(t, "Repo Site", site.Title)
}

func TestResolveGitMissingEntry(t *testing.T) {
	staging := t.TempDir()
	exporter := &fakeExporter{files: map[string]string{"other.html": "x"}}
	_, err := NewResolver(staging, exporter).Resolve(t.Context(), request.ContentSource{
		Kind:   request.ContentGit,
		GitURL: "https://example.com/user/site.git",
	})
	require.Error(t, err)
	ce, ok := errors.AsClassified(err)
	require.True(t, ok)
	value, _ := ce.Context().GetString("value")
	assert.Equal(t, DefaultEntry, value)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed resolution leaves no workspace behind")
}

func TestResolveGitSitesAreIsolated(t *testing.T) {
	src := testutil.SetupTestGitRepo(t, map[string]string{"index.html": "<title>v1</title>"})
	repo, err := gogit.PlainOpen(src)
	require.NoError(t, err)
	client := git.NewClient(t.TempDir(), 0, retry.DefaultPolicy())
	r := NewResolver(t.TempDir(), client)
	source := request.ContentSource{Kind: request.ContentGit, GitURL: src}

	first, err := r.Resolve(t.Context(), source)
	require.NoError(t, err)
	testutil.CommitFiles(t, repo, src, map[string]string{"index.html": "<title>v2</title>"}, "second")
	second, err := r.Resolve(t.Context(), source)
	require.NoError(t, err)

	assert.NotEqual(t, first.Dir, second.Dir)
	assert.Equal(t, "v1", first.Title)
	assert.Equal(t, "v2", second.Title)
	testutil.NewFileAssertions(t, first.Dir).
		AssertFileContains("index.html", "v1").
		AssertFileNotExists(".git")
	testutil.NewFileAssertions(t, second.Dir).AssertFileContains("index.html", "v2")
}

func TestResolveGitLive(t *testing.T) {
	exporter := &fakeExporter{}
	site, err := NewResolver(t.TempDir(), exporter).Resolve(t.Context(), request.ContentSource{
		Kind:      request.ContentGit,
		GitURL:    "https://github.com/octo/pages.git",
		GitBranch: "gh-pages",
		GitLive:   true,
	})
	require.NoError(t, err)
	assert.Zero(t, exporter.calls)
	assert.Empty(t, site.Dir)
	assert.Equal(t, "https://raw.githack.com/octo/pages/gh-pages/index.html", site.EntryURL)
}

func TestResolveGitWithoutSyncer(t *testing.T) {
	_, err := NewResolver(t.TempDir(), nil).Resolve(t.Context(), request.ContentSource{
		Kind:   request.ContentGit,
		GitURL: "https://example.com/user/site.git",
	})
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestResolveURL(t *testing.T) {
	site, err := NewResolver(t.TempDir(), nil).Resolve(t.Context(), request.ContentSource{Kind: request.ContentURL, URL: "https://example.com/app"})
	require.NoError(t, err)
	assert.Equal(t, request.Site{EntryURL: "https://example.com/app"}, site)
}

func TestPrepareAttachesSite(t *testing.T) {
	r := NewResolver(t.TempDir(), nil)
	req := &request.BuildRequest{AppID: "demo", Content: request.ContentSource{Kind: request.ContentURL, URL: "https://example.com/"}}
	require.NoError(t, r.Prepare(t.Context(), req))
	require.NotNil(t, req.Site)
	assert.Equal(t, "https://example.com/", req.EntryURL())

	bad := &request.BuildRequest{AppID: "demo", Content: request.ContentSource{Kind: request.ContentURL, URL: "ftp://example.com/"}}
	err := r.Prepare(t.Context(), bad)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	assert.Nil(t, bad.Site)
}

func TestRawURL(t *testing.T) {
	tests := []struct {
		repo, branch, entry string
		want                string
	}{
		{"https://github.com/user/repo.git", "main", "index.html", "https://raw.githack.com/user/repo/main/index.html"},
		{"https://github.com/user/repo/", "", "/docs/start.html", "https://raw.githack.com/user/repo/main/docs/start.html"},
		{"https://gitlab.com/user/repo", "main", "index.html", "https://user.gitlab.io/repo/index.html"},
		{"https://codeberg.org/user/repo.git", "main", "", "https://user.codeberg.page/repo/index.html"},
		{"https://git.example.org/user/repo.git", "dev", "index.html", "https://git.example.org/user/repo/raw/branch/dev/index.html"},
		{"http://forge.local/user/repo", "main", "a.html", "http://forge.local/user/repo/raw/branch/main/a.html"},
	}
	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			got, err := RawURL(tt.repo, tt.branch, tt.entry)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"https://github.com/onlyuser", "https://github.com/", "not a url at all"} {
		_, err := RawURL(bad, "main", "index.html")
		assert.Error(t, err, bad)
	}
}

func TestPageTitle(t *testing.T) {
	title, err := PageTitle(strings.NewReader("<html><head><title>A &amp; B</title></head></html>"))
	require.NoError(t, err)
	assert.Equal(t, "A & B", title)

	title, err = PageTitle(strings.NewReader("<p>no title</p>"))
	require.NoError(t, err)
	assert.Empty(t, title)
}

func TestFindEntryPrefersShallowest(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a/b/index.html", "")
	testutil.WriteFile(t, root, "b/index.html", "")
	testutil.WriteFile(t, root, "c/index.htm", "")

	entry, err := FindEntry(root)
	require.NoError(t, err)
	assert.Equal(t, "b/index.html", entry)
}
