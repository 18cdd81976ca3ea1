package patch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webapk/internal/baseline"
	"git.home.luguber.info/inful/webapk/internal/project"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/testutil"
)

type fixture struct {
	tree   *project.Tree
	store  *baseline.Store
	engine *Engine
	icon   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tree := testutil.OpenSkeleton(t)
	store := baseline.NewStore(t.TempDir())
	_, err := store.Save(baseline.State{CurrentAppID: testutil.TemplateAppID})
	require.NoError(t, err)
	return &fixture{
		tree:   tree,
		store:  store,
		engine: NewEngine(tree, store, Options{}),
		icon:   testutil.WritePNG(t, t.TempDir(), "icon.png", 42),
	}
}

func (f *fixture) apply(t *testing.T, req *request.BuildRequest) baseline.State {
	t.Helper()
	st, err := f.store.Load()
	require.NoError(t, err)
	st, err = f.engine.Apply(t.Context(), st, req)
	require.NoError(t, err)
	return st
}

func TestEndToEndDemoRequest(t *testing.T) {
	f := newFixture(t)
	req := &request.BuildRequest{
		AppID:           "demo",
		DisplayName:     "Demo App",
		IconPath:        f.icon,
		SourceVariables: request.Variables{"isOfflineMode": request.Bool(true)},
		Site:            &request.Site{EntryURL: "https://example.com/"},
	}

	st := f.apply(t, req)
	assert.Equal(t, "demo", st.CurrentAppID)
	assert.Empty(t, st.PendingAppID)

	fa := testutil.NewFileAssertions(t, f.tree.Root())
	assert.Equal(t, []string{"demo"}, fa.ListDirs("app/src/main/java/com"))
	fa.AssertFileContains("app/src/main/res/values/strings.xml", `<string name="app_name">Demo App</string>`).
		AssertFileContains("app/src/main/java/com/demo/htpk/MainActivity.java", "boolean isOfflineMode = true;").
		AssertFileContains("app/src/main/java/com/demo/htpk/MainActivity.java", `MAIN_URL = "https://example.com/";`)
	assert.Equal(t, testutil.Snapshot(t, f.tree.Root())["app/src/main/res/mipmap/ic_launcher.png"],
		fileDigest(t, f.icon), "icon replaced")
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	content := t.TempDir()
	testutil.WriteFile(t, content, "index.html", "<title>x</title>")
	req := &request.BuildRequest{
		AppID:           "demo",
		DisplayName:     `Tom & "Jerry"`,
		IconPath:        f.icon,
		SourceVariables: request.Variables{"isOfflineMode": request.Bool(true), "USER_AGENT": request.String("agent/1.0")},
		Site:            &request.Site{Dir: content, EntryURL: "https://appassets.androidplatform.net/assets/index.html"},
	}

	f.apply(t, req)
	first := testutil.Snapshot(t, f.tree.Root())
	f.apply(t, req)
	assert.Equal(t, first, testutil.Snapshot(t, f.tree.Root()))
}

func TestSwitchingIdentifiersLeavesOneDirectory(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"alpha", "beta"} {
		f.apply(t, &request.BuildRequest{AppID: id, IconPath: f.icon})
	}

	fa := testutil.NewFileAssertions(t, f.tree.Root())
	assert.Equal(t, []string{"beta"}, fa.ListDirs("app/src/main/java/com"))
	for _, stale := range []string{"alpha", testutil.TemplateAppID} {
		hits, err := f.tree.ContainsReference(stale)
		require.NoError(t, err)
		assert.Empty(t, hits, "references to %s", stale)
	}
	fa.AssertFileContains("app/src/main/res/values/strings.xml", `<string name="app_name">beta</string>`)
}

func TestPlanOrderAndEntryURL(t *testing.T) {
	f := newFixture(t)
	req := &request.BuildRequest{
		AppID:           "demo",
		IconPath:        f.icon,
		SourceVariables: request.Variables{"b": request.String("1"), "a": request.String("2")},
		Site:            &request.Site{EntryURL: "https://x"},
	}

	ops := f.engine.Plan(baseline.State{CurrentAppID: "template"}, req)
	var kinds []string
	for _, op := range ops {
		kinds = append(kinds, op.Kind())
	}
	assert.Equal(t, []string{
		"rename-package", "sync-directory", "set-resource-string", "replace-file",
		"set-declared-constant", "set-declared-constant", "set-declared-constant",
	}, kinds)
	assert.Equal(t, project.SetDeclaredConstant{Name: "MAIN_URL", Value: "https://x"}, ops[4])
	assert.Equal(t, project.SetDeclaredConstant{Name: "a", Value: "2"}, ops[5])

	// An explicit MAIN_URL variable replaces the injected entry URL.
	req.SourceVariables["MAIN_URL"] = request.String("https://override")
	ops = f.engine.Plan(baseline.State{CurrentAppID: "demo"}, req)
	assert.Equal(t, "sync-directory", ops[0].Kind(), "no rename when the id is unchanged")
	for _, op := range ops {
		if c, ok := op.(project.SetDeclaredConstant); ok && c.Name == "MAIN_URL" {
			assert.Equal(t, "https://override", c.Value)
		}
	}
}

func TestLaterRequestMatchesFreshTree(t *testing.T) {
	first := &request.BuildRequest{
		AppID:       "first",
		DisplayName: "First",
		SourceVariables: request.Variables{
			"isOfflineMode": request.Bool(true),
			"USER_AGENT":    request.String("evil"),
		},
		Site: &request.Site{EntryURL: "https://first.example/"},
	}
	second := func(icon string) *request.BuildRequest {
		return &request.BuildRequest{
			AppID:    "second",
			IconPath: icon,
			Site:     &request.Site{EntryURL: "https://second.example/"},
		}
	}

	reused := newFixture(t)
	first.IconPath = reused.icon
	reused.apply(t, first)
	st := reused.apply(t, second(reused.icon))
	assert.Contains(t, st.Defaults, "isOfflineMode")
	assert.Contains(t, st.Defaults, "USER_AGENT")

	fresh := newFixture(t)
	fresh.apply(t, second(fresh.icon))

	assert.Equal(t, testutil.Snapshot(t, fresh.tree.Root()), testutil.Snapshot(t, reused.tree.Root()))
	testutil.NewFileAssertions(t, reused.tree.Root()).
		AssertFileContains("app/src/main/java/com/second/htpk/MainActivity.java", "boolean isOfflineMode = false;").
		AssertFileNotContains("app/src/main/java/com/second/htpk/Settings.java", "evil")
}

func TestStringTrueStaysQuoted(t *testing.T) {
	f := newFixture(t)
	f.apply(t, &request.BuildRequest{
		AppID:           "demo",
		IconPath:        f.icon,
		SourceVariables: request.Variables{"USER_AGENT": request.String("true"), "isOfflineMode": request.Bool(true)},
	})
	testutil.NewFileAssertions(t, f.tree.Root()).
		AssertFileContains("app/src/main/java/com/demo/htpk/Settings.java", `String USER_AGENT = "true";`).
		AssertFileContains("app/src/main/java/com/demo/htpk/MainActivity.java", "boolean isOfflineMode = true;")
}

func TestPlanRestoresRecordedDefaults(t *testing.T) {
	f := newFixture(t)
	st := baseline.State{CurrentAppID: "demo", Defaults: map[string]string{"USER_AGENT": `"webapk"`, "isOfflineMode": "false"}}
	req := &request.BuildRequest{
		AppID:           "demo",
		IconPath:        f.icon,
		SourceVariables: request.Variables{"isOfflineMode": request.Bool(true)},
	}

	ops := f.engine.Plan(st, req)
	last := ops[len(ops)-1]
	assert.Equal(t, project.SetDeclaredConstant{Name: "USER_AGENT", Value: `"webapk"`, Form: project.Expression}, last)
	assert.Equal(t, project.SetDeclaredConstant{Name: "isOfflineMode", Value: "true", Form: project.BoolLiteral}, ops[len(ops)-2])
}

func TestApplyWithUnknownBaselineUsesPackageDirectory(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Save(baseline.State{})
	require.NoError(t, err)

	st := f.apply(t, &request.BuildRequest{AppID: "demo", IconPath: f.icon})
	assert.Equal(t, "demo", st.CurrentAppID)
	assert.Equal(t, []string{"demo"}, testutil.NewFileAssertions(t, f.tree.Root()).ListDirs("app/src/main/java/com"))
}

func fileDigest(t *testing.T, path string) string {
	t.Helper()
	return testutil.Snapshot(t, filepath.Dir(path))[filepath.Base(path)]
}
