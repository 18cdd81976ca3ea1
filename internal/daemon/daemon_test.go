package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/eventstore"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/server/responses"
	"git.home.luguber.info/inful/webapk/internal/testutil"
	"git.home.luguber.info/inful/webapk/internal/toolchain"
)

// apkToolchain writes a fake artifact at the configured path.
type apkToolchain struct{ artifact string }

func (a apkToolchain) RunBuild(_ context.Context, inv toolchain.Invocation) (toolchain.Outcome, error) {
	path := filepath.Join(inv.ProjectPath, a.artifact)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return toolchain.Outcome{}, err
	}
	if err := os.WriteFile(path, []byte("apk"), 0o600); err != nil {
		return toolchain.Outcome{}, err
	}
	return toolchain.Outcome{ArtifactPresent: true}, nil
}

func (apkToolchain) Clean(context.Context, toolchain.Invocation) error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Project.Root = testutil.NewSkeleton(t)
	cfg.Output.Directory = t.TempDir()
	cfg.State.Directory = t.TempDir()
	cfg.State.EventDB = ":memory:"
	cfg.Build.CacheDir = t.TempDir()
	cfg.Content.StagingDir = t.TempDir()
	cfg.Server.Listen = "127.0.0.1:0"
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(t.Context(), cfg, "", ComponentOptions{Toolchain: apkToolchain{artifact: cfg.Project.ArtifactPath}})
	require.NoError(t, err)
	return d
}

func TestDaemonBuildsThroughCoordinator(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	assert.Equal(t, StatusRunning, d.GetStatus())

	c := d.Components()
	req := &request.BuildRequest{
		AppID:       "demo",
		DisplayName: "Demo",
		IconPath:    testutil.WritePNG(t, t.TempDir(), "icon.png", 7),
		Content:     request.ContentSource{Kind: request.ContentURL, URL: "https://example.com/"},
	}
	require.NoError(t, c.Resolver.Prepare(t.Context(), req))
	snap, err := c.Coordinator.Submit(t.Context(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	res, err := c.Coordinator.Await(ctx, snap.ID)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Message)
	assert.FileExists(t, res.ArtifactPath)

	require.Eventually(t, func() bool {
		summary, ok := c.History.GetBuild(snap.ID)
		return ok && summary.Status == eventstore.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health responses.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestDaemonStartTwiceFails(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	require.Error(t, d.Start(t.Context()))
}

func TestDaemonStopIsIdempotent(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start(t.Context()))

	require.NoError(t, d.Stop(t.Context()))
	require.NoError(t, d.Stop(t.Context()))
	assert.Equal(t, StatusStopped, d.GetStatus())
}

func TestDaemonRunStopsWhenContextEnds(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StatusStopped, d.GetStatus())
}

func TestDaemonStartFailsOnBrokenTree(t *testing.T) {
	cfg := testConfig(t)
	testutil.WriteFile(t, cfg.Project.Root, "app/src/main/java/com/second/htpk/Extra.java", "package com.second.htpk;\n")
	d := newTestDaemon(t, cfg)
	t.Cleanup(func() { _ = d.Components().Close() })

	err := d.Start(t.Context())
	require.Error(t, err)
	assert.Equal(t, StatusError, d.GetStatus())
}

func TestReloadConfigUpdatesTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.Timeout = "10m"
	d := newTestDaemon(t, cfg)
	t.Cleanup(func() { _ = d.Components().Close() })

	next := testConfig(t)
	next.Build.Timeout = "90s"
	require.NoError(t, d.ReloadConfig(t.Context(), next))
	assert.Equal(t, 90*time.Second, d.Components().Executor.Timeout())
}

func TestNewFailsWithoutProjectRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Project.Root = filepath.Join(t.TempDir(), "missing")

	_, err := New(t.Context(), cfg, "", ComponentOptions{})
	require.Error(t, err)
}
