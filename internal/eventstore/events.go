package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/webapk/internal/errors"
)

// BuildQueuedMeta describes an accepted request.
type BuildQueuedMeta struct {
	AppID       string `json:"app_id"`
	ContentKind string `json:"content_kind,omitempty"`
	Position    int    `json:"position"`
}

// BuildStartedMeta describes the worker picking up a request.
type BuildStartedMeta struct {
	AppID    string `json:"app_id"`
	WorkerID string `json:"worker_id"`
}

// BuildCompletedMeta describes a successful build.
type BuildCompletedMeta struct {
	AppID        string `json:"app_id"`
	ArtifactPath string `json:"artifact_path"`
	Digest       string `json:"digest,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	Repaired     bool   `json:"repaired,omitempty"`
}

// BuildFailedMeta describes a failed build.
type BuildFailedMeta struct {
	AppID            string `json:"app_id"`
	Stage            string `json:"stage"`
	Category         string `json:"category,omitempty"`
	Error            string `json:"error"`
	DurationMS       int64  `json:"duration_ms"`
	OperatorRequired bool   `json:"operator_required,omitempty"`
}

// BuildCanceledMeta describes a request canceled while queued.
type BuildCanceledMeta struct {
	AppID string `json:"app_id"`
}

func newEvent(buildID, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal "+eventType+" payload").
			WithCause(err).
			WithContext("build_id", buildID).
			Build()
	}
	return &BaseEvent{
		EventBuildID:   buildID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// NewBuildQueued creates a BuildQueued event.
func NewBuildQueued(buildID string, meta BuildQueuedMeta) (*BaseEvent, error) {
	return newEvent(buildID, TypeBuildQueued, meta)
}

// NewBuildStarted creates a BuildStarted event.
func NewBuildStarted(buildID string, meta BuildStartedMeta) (*BaseEvent, error) {
	return newEvent(buildID, TypeBuildStarted, meta)
}

// NewBuildCompleted creates a BuildCompleted event.
func NewBuildCompleted(buildID string, meta BuildCompletedMeta) (*BaseEvent, error) {
	return newEvent(buildID, TypeBuildCompleted, meta)
}

// NewBuildFailed creates a BuildFailed event.
func NewBuildFailed(buildID string, meta BuildFailedMeta) (*BaseEvent, error) {
	return newEvent(buildID, TypeBuildFailed, meta)
}

// NewBuildCanceled creates a BuildCanceled event.
func NewBuildCanceled(buildID string, meta BuildCanceledMeta) (*BaseEvent, error) {
	return newEvent(buildID, TypeBuildCanceled, meta)
}
