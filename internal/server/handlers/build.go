package handlers

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/output"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/server/responses"
	"git.home.luguber.info/inful/webapk/internal/workspace"
)

// BuildQueue is the coordinator surface the handlers need.
type BuildQueue interface {
	Submit(ctx context.Context, req *request.BuildRequest) (queue.Snapshot, error)
	Await(ctx context.Context, id string) (queue.Result, error)
	Cancel(id string) (bool, error)
	Snapshot(id string) (queue.Snapshot, bool)
	Subscribe(id string) (<-chan queue.Progress, func(), error)
	Length() int
	Active() (queue.Snapshot, bool)
	History() []queue.Snapshot
}

// ContentPreparer resolves a request's content before it is queued.
type ContentPreparer interface {
	Prepare(ctx context.Context, req *request.BuildRequest) error
}

// BuildOptions configures BuildHandlers.
type BuildOptions struct {
	StagingDir     string // uploads are stored in workspaces below this directory
	MaxUploadBytes int64  // zero disables the limit
}

// BuildHandlers contains the build API handlers.
type BuildHandlers struct {
	builds       BuildQueue
	content      ContentPreparer
	opts         BuildOptions
	errorAdapter *errors.HTTPErrorAdapter
}

// NewBuildHandlers creates a new build handlers instance.
func NewBuildHandlers(builds BuildQueue, content ContentPreparer, opts BuildOptions) *BuildHandlers {
	return &BuildHandlers{
		builds:       builds,
		content:      content,
		opts:         opts,
		errorAdapter: errors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleSubmit accepts a multipart build request and queues it.
func (h *BuildHandlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}

	ws := workspace.NewManager(h.opts.StagingDir)
	if err := ws.Create(); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryFileSystem, "failed to create upload workspace").Build())
		return
	}

	req, err := parseBuildForm(r, ws.GetPath())
	if err == nil {
		err = req.Validate()
	}
	if err == nil {
		err = h.content.Prepare(r.Context(), req)
	}
	var snap queue.Snapshot
	if err == nil {
		snap, err = h.builds.Submit(r.Context(), req)
	}
	if err != nil {
		discard(ws, req)
		h.errorAdapter.WriteErrorResponse(w, r, submitError(err))
		return
	}

	go h.cleanupWhenDone(snap.ID, ws)

	resp := responses.BuildAcceptedResponse{BuildID: snap.ID, Status: string(snap.Status)}
	if err := writeJSON(w, http.StatusAccepted, resp); err != nil {
		slog.Error("failed to encode build response", logfields.Error(err))
	}
}

// cleanupWhenDone removes the upload workspace once the job has a result.
func (h *BuildHandlers) cleanupWhenDone(id string, ws *workspace.Manager) {
	if _, err := h.builds.Await(context.Background(), id); err != nil {
		slog.Warn("Upload cleanup could not await build", logfields.JobID(id), logfields.Error(err))
	}
	if err := ws.Cleanup(); err != nil {
		slog.Warn("Failed to remove upload workspace", logfields.JobID(id), logfields.Error(err))
	}
}

func discard(ws *workspace.Manager, req *request.BuildRequest) {
	if req != nil && req.Site != nil && req.Site.Ephemeral && req.Site.Dir != "" {
		_ = os.RemoveAll(req.Site.Dir)
	}
	if err := ws.Cleanup(); err != nil {
		slog.Warn("Failed to remove upload workspace", logfields.Error(err))
	}
}

func submitError(err error) error {
	switch {
	case stdErrors.Is(err, queue.ErrQueueFull), stdErrors.Is(err, queue.ErrStopped):
		return errors.QueueError(err.Error()).WithCause(err).Build()
	default:
		return err
	}
}

// HandleGet returns the snapshot of one build.
func (h *BuildHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := writeJSON(w, http.StatusOK, snap); err != nil {
		slog.Error("failed to encode build snapshot", logfields.Error(err))
	}
}

// HandleList reports the queue length, the running build and recent history.
func (h *BuildHandlers) HandleList(w http.ResponseWriter, _ *http.Request) {
	resp := responses.QueueStatusResponse{
		QueueLength: h.builds.Length(),
		History:     h.builds.History(),
	}
	if active, ok := h.builds.Active(); ok {
		resp.Active = &active
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		slog.Error("failed to encode queue status", logfields.Error(err))
	}
}

// HandleCancel cancels a build that has not started yet.
func (h *BuildHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	canceled, err := h.builds.Cancel(id)
	if stdErrors.Is(err, queue.ErrNotFound) {
		h.errorAdapter.WriteErrorResponse(w, r, notFound(id))
		return
	}
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if !canceled {
		h.errorAdapter.WriteErrorResponse(w, r, errors.ConflictError("build already started or finished").
			WithContext("build_id", id).
			Build())
		return
	}
	if err := writeJSON(w, http.StatusOK, responses.CancelResponse{BuildID: id, Canceled: true}); err != nil {
		slog.Error("failed to encode cancel response", logfields.Error(err))
	}
}

// HandleArtifact serves the APK of a successful build.
func (h *BuildHandlers) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if snap.Result == nil || !snap.Result.Succeeded() {
		msg := "artifact not ready"
		if snap.Status.IsTerminal() {
			msg = "build did not produce an artifact"
		}
		h.errorAdapter.WriteErrorResponse(w, r, errors.ConflictError(msg).
			WithContext("build_id", snap.ID).
			WithContext("status", string(snap.Status)).
			Build())
		return
	}

	f, err := os.Open(filepath.Clean(snap.Result.ArtifactPath))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryNotFound, "artifact no longer available").
			WithContext("build_id", snap.ID).
			Build())
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryFileSystem, "failed to stat artifact").Build())
		return
	}

	name := output.Artifact{AppID: snap.AppID}.DownloadName()
	w.Header().Set("Content-Type", output.APKContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *BuildHandlers) lookup(w http.ResponseWriter, r *http.Request) (queue.Snapshot, bool) {
	id := r.PathValue("id")
	snap, ok := h.builds.Snapshot(id)
	if !ok {
		h.errorAdapter.WriteErrorResponse(w, r, notFound(id))
	}
	return snap, ok
}

func notFound(id string) error {
	return errors.NotFoundError("build not found").WithContext("build_id", id).Build()
}
