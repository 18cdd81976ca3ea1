// Package responses defines API response types used by the webapk HTTP handlers.
package responses

import (
	"time"

	"git.home.luguber.info/inful/webapk/internal/build/queue"
)

// BuildAcceptedResponse is returned once a build request is queued.
type BuildAcceptedResponse struct {
	BuildID string `json:"build_id"`
	Status  string `json:"status"`
}

// QueueStatusResponse describes the coordinator state.
type QueueStatusResponse struct {
	QueueLength int              `json:"queue_length"`
	Active      *queue.Snapshot  `json:"active,omitempty"`
	History     []queue.Snapshot `json:"history"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	BuildID  string `json:"build_id"`
	Canceled bool   `json:"canceled"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Uptime      float64   `json:"uptime"`
	QueueLength int       `json:"queue_length"`
	Building    bool      `json:"building"`
}

// StreamCompleteEvent is the payload of the final "complete" SSE event.
type StreamCompleteEvent struct {
	BuildID string `json:"build_id"`
}

// StreamErrorEvent is the payload of the final "error" SSE event.
type StreamErrorEvent struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}
