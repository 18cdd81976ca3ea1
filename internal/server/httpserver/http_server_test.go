package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/content"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/server/responses"
	"git.home.luguber.info/inful/webapk/internal/testutil"
	"git.home.luguber.info/inful/webapk/internal/toolchain"
)

type fixture struct {
	coord   *queue.Coordinator
	handler http.Handler
	staging string
	outDir  string
}

// newFixture serves a coordinator whose runner writes a fake APK, or fails
// for app ids starting with "fail". A non-nil gate blocks every run until closed.
func newFixture(t *testing.T, gate chan struct{}) *fixture {
	t.Helper()
	f := &fixture{staging: t.TempDir(), outDir: t.TempDir()}
	runner := queue.RunnerFunc(func(ctx context.Context, req *request.BuildRequest, progress toolchain.ProgressFunc) queue.Result {
		progress(50, "Building APK...")
		if gate != nil {
			<-gate
		}
		if strings.HasPrefix(req.AppID, "fail") {
			err := errors.BuildError("gradle exited with code 1").Build()
			return queue.Failure(req.AppID, err, errors.StageBuild)
		}
		apk := filepath.Join(f.outDir, req.AppID+".apk")
		if err := os.WriteFile(apk, []byte("APK:"+req.EntryURL()), 0o600); err != nil {
			return queue.Failure(req.AppID, err, errors.StageArtifactCopy)
		}
		return queue.Result{Status: queue.StatusSucceeded, AppID: req.AppID, ArtifactPath: apk, Message: "Done!"}
	})
	f.coord = queue.NewCoordinator(runner, queue.Options{QueueSize: 4})
	f.coord.Start(t.Context())
	t.Cleanup(func() {
		if gate != nil {
			select {
			case <-gate:
			default:
				close(gate)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.coord.Stop(ctx)
	})

	srv := New(f.coord, content.NewResolver(t.TempDir(), nil), Options{
		Listen:         "127.0.0.1:0",
		Version:        "test",
		StagingDir:     f.staging,
		MaxUploadBytes: 4 << 20,
	})
	f.handler = srv.Handler()
	return f
}

func buildForm(t *testing.T, fields map[string]string, withIcon bool) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withIcon {
		icon, err := os.ReadFile(testutil.WritePNG(t, t.TempDir(), "icon.png", 9))
		require.NoError(t, err)
		part, err := mw.CreateFormFile("icon", "icon.png")
		require.NoError(t, err)
		_, err = part.Write(icon)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) submit(t *testing.T, fields map[string]string) string {
	t.Helper()
	body, ct := buildForm(t, fields, true)
	rec := f.do(t, http.MethodPost, "/api/builds", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp responses.BuildAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.BuildID)
	return resp.BuildID
}

func (f *fixture) await(t *testing.T, id string) queue.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	res, err := f.coord.Await(ctx, id)
	require.NoError(t, err)
	return res
}

func TestSubmitAndDownload(t *testing.T) {
	f := newFixture(t, nil)
	id := f.submit(t, map[string]string{"app_id": "demo", "name": "Demo", "main_url": "https://example.com/app"})
	res := f.await(t, id)
	require.True(t, res.Succeeded())

	rec := f.do(t, http.MethodGet, "/api/builds/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap queue.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, queue.StatusSucceeded, snap.Status)
	assert.Equal(t, "demo", snap.AppID)
	assert.Equal(t, 100, snap.Progress.Percent)

	rec = f.do(t, http.MethodGet, "/api/builds/"+id+"/artifact", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.android.package-archive", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="demo_release.apk"`)
	assert.Equal(t, "APK:https://example.com/app", rec.Body.String())

	// The legacy route serves the same file.
	rec = f.do(t, http.MethodGet, "/download-apk/"+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(f.staging)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond, "upload workspace should be removed after the build")
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name     string
		fields   map[string]string
		withIcon bool
	}{
		{"leading digit", map[string]string{"app_id": "1abc", "main_url": "https://example.com/"}, true},
		{"punctuation", map[string]string{"app_id": "my-app", "main_url": "https://example.com/"}, true},
		{"missing icon", map[string]string{"app_id": "demo", "main_url": "https://example.com/"}, false},
		{"no content", map[string]string{"app_id": "demo"}, true},
		{"bad variables", map[string]string{"app_id": "demo", "main_url": "https://example.com/", "variables": `{"x": 3}`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := buildForm(t, tt.fields, tt.withIcon)
			rec := f.do(t, http.MethodPost, "/api/builds", body, ct)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			var resp errors.HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "validation", resp.Code)
		})
	}

	assert.Zero(t, f.coord.Length())
	assert.Empty(t, f.coord.History())
	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitWithVariablesAndLegacyRoute(t *testing.T) {
	f := newFixture(t, nil)
	body, ct := buildForm(t, map[string]string{
		"app_id":    "vars",
		"main_url":  "https://example.com/",
		"variables": `{"isOfflineMode": true, "USER_AGENT": "webapk/1"}`,
	}, true)
	rec := f.do(t, http.MethodPost, "/build-app", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestProgressStream(t *testing.T) {
	f := newFixture(t, nil)

	ok := f.submit(t, map[string]string{"app_id": "demo", "main_url": "https://example.com/"})
	f.await(t, ok)
	rec := f.do(t, http.MethodGet, "/api/builds/"+ok+"/progress", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	stream := rec.Body.String()
	assert.Contains(t, stream, `data: {"progress":100,"message":"Done!","status":"succeeded"}`)
	assert.Contains(t, stream, "event: complete\ndata: {\"build_id\":\""+ok+"\"}\n\n")

	failed := f.submit(t, map[string]string{"app_id": "failing", "main_url": "https://example.com/"})
	f.await(t, failed)
	rec = f.do(t, http.MethodGet, "/build-progress/"+failed, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: error\n")
	assert.Contains(t, rec.Body.String(), `"error":"gradle exited with code 1"`)
	assert.Contains(t, rec.Body.String(), `"stage":"build"`)

	rec = f.do(t, http.MethodGet, "/api/builds/missing/progress", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveProgressStream(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, gate)
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	id := f.submit(t, map[string]string{"app_id": "live", "main_url": "https://example.com/"})
	resp, err := http.Get(srv.URL + "/api/builds/" + id + "/progress")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Eventually(t, func() bool {
		snap, ok := f.coord.Snapshot(id)
		return ok && snap.Progress.Percent == 50
	}, 2*time.Second, 10*time.Millisecond)
	close(gate)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	stream := string(data)
	assert.Contains(t, stream, `"message":"Building APK..."`)
	assert.True(t, strings.HasSuffix(stream, "event: complete\ndata: {\"build_id\":\""+id+"\"}\n\n"), stream)
}

func TestCancelAndArtifactStates(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, gate)

	running := f.submit(t, map[string]string{"app_id": "first", "main_url": "https://example.com/"})
	require.Eventually(t, func() bool {
		active, ok := f.coord.Active()
		return ok && active.ID == running
	}, 2*time.Second, 10*time.Millisecond)
	waiting := f.submit(t, map[string]string{"app_id": "second", "main_url": "https://example.com/"})

	rec := f.do(t, http.MethodGet, "/api/builds", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status responses.QueueStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.QueueLength)
	require.NotNil(t, status.Active)
	assert.Equal(t, running, status.Active.ID)

	rec = f.do(t, http.MethodGet, "/api/builds/"+running+"/artifact", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/builds/"+running, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/builds/"+waiting, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cancel responses.CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancel))
	assert.True(t, cancel.Canceled)

	rec = f.do(t, http.MethodDelete, "/api/builds/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	close(gate)
	assert.True(t, f.await(t, running).Succeeded())
	assert.Equal(t, queue.StatusCanceled, f.await(t, waiting).Status)

	rec = f.do(t, http.MethodGet, "/api/builds/"+waiting+"/artifact", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "did not produce an artifact")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health responses.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)

	rec = f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/builds", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t, nil)
	srv := New(f.coord, content.NewResolver(t.TempDir(), nil), Options{Listen: "127.0.0.1:0", Version: "test"})
	require.NoError(t, srv.Start(t.Context()))
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}
