package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webapk/internal/baseline"
	"git.home.luguber.info/inful/webapk/internal/build"
	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/output"
	"git.home.luguber.info/inful/webapk/internal/patch"
	"git.home.luguber.info/inful/webapk/internal/project"
	"git.home.luguber.info/inful/webapk/internal/recovery"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/testutil"
	"git.home.luguber.info/inful/webapk/internal/toolchain"
)

// scriptedToolchain writes the artifact unless hang is set, in which case it
// blocks until the build context ends.
type scriptedToolchain struct {
	tree *project.Tree
	hang atomic.Bool
}

func (s *scriptedToolchain) RunBuild(ctx context.Context, inv toolchain.Invocation) (toolchain.Outcome, error) {
	if s.hang.Load() {
		<-ctx.Done()
		return toolchain.Outcome{ExitCode: -1}, ctx.Err()
	}
	if inv.Progress != nil {
		inv.Progress(88, "Building: Task :app:packageRelease")
	}
	layout := s.tree.Layout()
	path := filepath.Join(inv.ProjectPath, layout.ArtifactPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return toolchain.Outcome{}, err
	}
	if err := os.WriteFile(path, []byte("apk"), 0o600); err != nil {
		return toolchain.Outcome{}, err
	}
	return toolchain.Outcome{ArtifactPresent: true}, nil
}

func (s *scriptedToolchain) Clean(context.Context, toolchain.Invocation) error { return nil }

type fixture struct {
	tree     *project.Tree
	store    *baseline.Store
	output   *output.Store
	tc       *scriptedToolchain
	executor *build.Executor
	pipeline *Pipeline
	iconPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tree := testutil.OpenSkeleton(t)
	store := baseline.NewStore(t.TempDir())
	out := output.NewStore(t.TempDir())
	tc := &scriptedToolchain{tree: tree}
	exec := build.NewExecutor(tree, tc, out, t.TempDir(), time.Minute)
	p := New(store, recovery.NewSupervisor(tree, store), patch.NewEngine(tree, store, patch.Options{}), exec)
	return &fixture{
		tree: tree, store: store, output: out, tc: tc, executor: exec, pipeline: p,
		iconPath: testutil.WritePNG(t, t.TempDir(), "icon.png", 3),
	}
}

func (f *fixture) request(appID string) *request.BuildRequest {
	return &request.BuildRequest{
		AppID:       appID,
		DisplayName: "App " + appID,
		IconPath:    f.iconPath,
		Content:     request.ContentSource{Kind: request.ContentURL, URL: "https://example.com/"},
		Site:        &request.Site{EntryURL: "https://example.com/"},
	}
}

func TestRunSucceeds(t *testing.T) {
	f := newFixture(t)
	var percents []int
	res := f.pipeline.Run(t.Context(), f.request("demo"), func(p int, _ string) { percents = append(percents, p) })

	require.True(t, res.Succeeded(), res.Message)
	assert.Equal(t, f.output.ArtifactPath("demo"), res.ArtifactPath)
	assert.NotEmpty(t, res.ArtifactDigest)
	assert.True(t, res.Repaired, "first run records the unknown baseline")
	assert.IsNonDecreasing(t, percents)

	st, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "demo", st.CurrentAppID)
	assert.True(t, st.LastBuildSucceeded)
	assert.Equal(t, res.ArtifactPath, st.LastKnownGoodPath)

	dirs, err := f.tree.PackageDirs()
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, dirs)
	testutil.NewFileAssertions(t, f.tree.Root()).
		AssertFileContains("app/src/main/java/com/demo/htpk/MainActivity.java", `"https://example.com/"`).
		AssertFileContains("app/src/main/res/values/strings.xml", "App demo")
}

func TestTimeoutThenNextRequestProceeds(t *testing.T) {
	f := newFixture(t)
	f.executor.SetTimeout(50 * time.Millisecond)
	f.tc.hang.Store(true)

	res := f.pipeline.Run(t.Context(), f.request("first"), nil)
	require.Equal(t, queue.StatusFailed, res.Status)
	assert.Equal(t, errors.StageBuild, res.Stage)
	assert.True(t, errors.HasCategory(res.Err, errors.CategoryTimeout))

	st, err := f.store.Load()
	require.NoError(t, err)
	assert.False(t, st.LastBuildSucceeded)

	f.tc.hang.Store(false)
	res = f.pipeline.Run(t.Context(), f.request("second"), nil)
	require.True(t, res.Succeeded(), res.Message)

	dirs, err := f.tree.PackageDirs()
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, dirs)
	hits, err := f.tree.ContainsReference("first")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMalformedTreeFailsInRecovery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.tree.Path("app/src/main/java/com/extra"), 0o750))
	before := testutil.Snapshot(t, f.tree.Root())

	res := f.pipeline.Run(t.Context(), f.request("demo"), nil)
	require.Equal(t, queue.StatusFailed, res.Status)
	assert.Equal(t, errors.StageRecovery, res.Stage)
	assert.True(t, errors.IsOperatorRequired(res.Err))
	assert.Equal(t, before, testutil.Snapshot(t, f.tree.Root()), "no patch is applied to a tree recovery rejected")
}

func TestEphemeralContentIsRemoved(t *testing.T) {
	f := newFixture(t)
	staged := t.TempDir()
	testutil.WriteFile(t, staged, "index.html", "<html><title>Staged</title></html>")

	req := f.request("demo")
	req.Site = &request.Site{Dir: staged, EntryURL: "https://appassets.androidplatform.net/assets/index.html", Ephemeral: true}
	res := f.pipeline.Run(t.Context(), req, nil)
	require.True(t, res.Succeeded(), res.Message)

	assert.NoDirExists(t, staged)
	testutil.NewFileAssertions(t, f.tree.Root()).AssertFileExists("app/src/main/assets/index.html")
}

func TestVariablesDoNotCarryIntoNextBuild(t *testing.T) {
	reused := newFixture(t)
	first := reused.request("first")
	first.SourceVariables = request.Variables{
		"isOfflineMode": request.Bool(true),
		"USER_AGENT":    request.String("evil"),
	}
	res := reused.pipeline.Run(t.Context(), first, nil)
	require.True(t, res.Succeeded(), res.Message)
	res = reused.pipeline.Run(t.Context(), reused.request("second"), nil)
	require.True(t, res.Succeeded(), res.Message)

	fresh := newFixture(t)
	res = fresh.pipeline.Run(t.Context(), fresh.request("second"), nil)
	require.True(t, res.Succeeded(), res.Message)

	assert.Equal(t, testutil.Snapshot(t, fresh.tree.Root()), testutil.Snapshot(t, reused.tree.Root()))
	testutil.NewFileAssertions(t, reused.tree.Root()).
		AssertFileContains("app/src/main/java/com/second/htpk/MainActivity.java", "boolean isOfflineMode = false;").
		AssertFileNotContains("app/src/main/java/com/second/htpk/Settings.java", "evil")
}

func TestTimeoutStopsToolchainChildren(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	tree := testutil.OpenSkeleton(t)
	store := baseline.NewStore(t.TempDir())
	script := filepath.Join(t.TempDir(), "gradlew.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte("sh -c 'sleep 1; echo late > \"$ANDROID_PROJECT_ROOT/late\"' &\nsleep 30\n"), 0o600))
	tc := &toolchain.CommandToolchain{Command: []string{"sh", script}, WaitDelay: 100 * time.Millisecond}
	executor := build.NewExecutor(tree, tc, output.NewStore(t.TempDir()), t.TempDir(), 200*time.Millisecond)
	p := New(store, recovery.NewSupervisor(tree, store), patch.NewEngine(tree, store, patch.Options{}), executor)
	f := &fixture{iconPath: testutil.WritePNG(t, t.TempDir(), "icon.png", 3)}

	start := time.Now()
	res := p.Run(t.Context(), f.request("demo"), nil)
	require.Equal(t, queue.StatusFailed, res.Status)
	assert.True(t, errors.HasCategory(res.Err, errors.CategoryTimeout))
	assert.Less(t, time.Since(start), 5*time.Second)

	time.Sleep(1500 * time.Millisecond)
	testutil.NewFileAssertions(t, tree.Root()).AssertFileNotExists("late")
}
