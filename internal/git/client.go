package git

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stdErrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/retry"
)

// Client handles Git operations below a cache directory.
type Client struct {
	cacheDir string
	depth    int
	policy   retry.Policy

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per checkout directory
}

// NewClient creates a client that keeps checkouts in cacheDir/git. A depth
// of zero fetches full history.
func NewClient(cacheDir string, depth int, policy retry.Policy) *Client {
	return &Client{cacheDir: cacheDir, depth: depth, policy: policy, locks: make(map[string]*sync.Mutex)}
}

// CheckoutDir returns the cache directory used for url and branch.
func (c *Client) CheckoutDir(url, branch string) string {
	sum := sha256.Sum256([]byte(url + "#" + branch))
	return filepath.Join(c.cacheDir, "git", hex.EncodeToString(sum[:8]))
}

// Sync clones url into its cache directory, or updates an existing checkout
// to the remote tip of branch. An empty branch follows the remote HEAD. The
// returned directory is shared: a later Sync of the same url and branch
// rewrites it.
func (c *Client) Sync(ctx context.Context, url, branch string) (string, error) {
	dir := c.CheckoutDir(url, branch)
	unlock := c.lock(dir)
	defer unlock()
	if err := c.syncLocked(ctx, dir, url, branch); err != nil {
		return "", err
	}
	return dir, nil
}

// Export syncs url and copies its worktree, without the .git directory, into
// dest. The checkout stays locked until the copy is complete.
func (c *Client) Export(ctx context.Context, url, branch, dest string) error {
	dir := c.CheckoutDir(url, branch)
	unlock := c.lock(dir)
	defer unlock()
	if err := c.syncLocked(ctx, dir, url, branch); err != nil {
		return err
	}
	if err := copyWorktree(dir, dest); err != nil {
		return errors.FileSystemError("failed to copy checkout").
			WithCause(err).
			WithContext("path", dest).
			Build()
	}
	return nil
}

func (c *Client) lock(dir string) func() {
	c.mu.Lock()
	l, ok := c.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		c.locks[dir] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Client) syncLocked(ctx context.Context, dir, url, branch string) error {
	return c.policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			slog.Warn("Retrying git sync", logfields.URL(url), slog.Int("attempt", attempt))
		}
		return c.syncOnce(ctx, dir, url, branch)
	}, isRetryable)
}

func (c *Client) syncOnce(ctx context.Context, dir, url, branch string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		err := c.update(ctx, dir, url, branch)
		if err == nil || isRetryable(err) {
			return err
		}
		slog.Warn("Cached checkout unusable, recloning", logfields.Path(dir), logfields.Error(err))
	}
	return c.clone(ctx, dir, url, branch)
}

func (c *Client) clone(ctx context.Context, dir, url, branch string) error {
	slog.Debug("Cloning repository", logfields.URL(url), slog.String("branch", branch), logfields.Path(dir))
	if err := os.RemoveAll(dir); err != nil {
		return errors.FileSystemError("failed to remove existing checkout").WithCause(err).WithContext("path", dir).Build()
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return errors.FileSystemError("failed to create git cache directory").WithCause(err).WithContext("path", dir).Build()
	}

	opts := &git.CloneOptions{URL: url, Tags: git.NoTags}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}
	if c.depth > 0 {
		opts.Depth = c.depth
	}
	repository, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return ClassifyGitError(err, "clone", url)
	}
	logHead(repository, "Repository cloned", url, dir)
	return nil
}

func (c *Client) update(ctx context.Context, dir, url, branch string) error {
	repository, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	target, err := resolveTargetBranch(repository, branch)
	if err != nil {
		return err
	}

	spec := ggitcfg.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", target, target))
	fetchOpts := &git.FetchOptions{RemoteName: "origin", Tags: git.NoTags, RefSpecs: []ggitcfg.RefSpec{spec}, Force: true}
	if c.depth > 0 {
		fetchOpts.Depth = c.depth
	}
	if err := repository.FetchContext(ctx, fetchOpts); err != nil && !stdErrors.Is(err, git.NoErrAlreadyUpToDate) {
		return ClassifyGitError(err, "fetch", url)
	}

	remoteRef, err := repository.Reference(plumbing.NewRemoteReferenceName("origin", target), true)
	if err != nil {
		return fmt.Errorf("remote ref: %w", err)
	}
	wt, err := repository.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		slog.Warn("clean untracked failed", logfields.Path(dir), logfields.Error(err))
	}
	logHead(repository, "Repository updated", url, dir)
	return nil
}

// resolveTargetBranch picks the explicit branch, else the checked out one.
func resolveTargetBranch(repository *git.Repository, branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	head, err := repository.Head()
	if err != nil {
		return "", fmt.Errorf("resolve head: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("detached head in cached checkout")
	}
	return head.Name().Short(), nil
}

func logHead(repository *git.Repository, msg, url, dir string) {
	if ref, err := repository.Head(); err == nil {
		slog.Info(msg, logfields.URL(url), slog.String("commit", ref.Hash().String()[:8]), logfields.Path(dir))
		return
	}
	slog.Info(msg, logfields.URL(url), logfields.Path(dir))
}

// copyWorktree copies regular files and directories from src to dest,
// skipping .git. Symlinks are not followed.
func copyWorktree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dest, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
