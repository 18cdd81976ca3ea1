package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/server/responses"
)

// QueueStatus is the coordinator surface used by the health check.
type QueueStatus interface {
	Length() int
	Active() (queue.Snapshot, bool)
}

// MonitoringHandlers contains health handlers.
type MonitoringHandlers struct {
	queue     QueueStatus
	version   string
	startTime time.Time
}

// NewMonitoringHandlers creates a new monitoring handlers instance.
func NewMonitoringHandlers(q QueueStatus, version string) *MonitoringHandlers {
	return &MonitoringHandlers{queue: q, version: version, startTime: time.Now()}
}

// HandleHealthCheck reports liveness together with the queue state.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	_, building := h.queue.Active()
	resp := responses.HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now(),
		Version:     h.version,
		Uptime:      time.Since(h.startTime).Seconds(),
		QueueLength: h.queue.Length(),
		Building:    building,
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		slog.Error("failed to encode health response", logfields.Error(err))
	}
}
