package handlers

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/server/responses"
)

// HeartbeatInterval is how often an idle progress stream sends a comment line.
var HeartbeatInterval = 15 * time.Second

// HandleProgress streams progress updates as server-sent events. Every
// update is a data line; the stream ends with a "complete" event for a
// successful build and an "error" event otherwise.
func (h *BuildHandlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates, unsubscribe, err := h.builds.Subscribe(id)
	if stdErrors.Is(err, queue.ErrNotFound) {
		h.errorAdapter.WriteErrorResponse(w, r, notFound(id))
		return
	}
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	flush := func() { _ = rc.Flush() }
	flush()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	var last queue.Progress
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flush()
		case p, ok := <-updates:
			if !ok {
				h.writeFinal(w, id, last)
				flush()
				return
			}
			last = p
			if err := writeEvent(w, "", p); err != nil {
				slog.Debug("Progress stream closed", logfields.JobID(id), logfields.Error(err))
				return
			}
			flush()
		}
	}
}

func (h *BuildHandlers) writeFinal(w io.Writer, id string, last queue.Progress) {
	if last.Status == queue.StatusSucceeded {
		_ = writeEvent(w, "complete", responses.StreamCompleteEvent{BuildID: id})
		return
	}
	ev := responses.StreamErrorEvent{Error: last.Message}
	if snap, ok := h.builds.Snapshot(id); ok && snap.Result != nil {
		ev.Error = snap.Result.Message
		ev.Stage = string(snap.Result.Stage)
	}
	if ev.Error == "" {
		ev.Error = "build " + string(last.Status)
	}
	_ = writeEvent(w, "error", ev)
}

// writeEvent writes one SSE frame. An empty name writes a bare data frame.
func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
