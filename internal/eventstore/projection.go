// Package eventstore records build lifecycle events in SQLite and projects
// them into a bounded build history.
package eventstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Summary statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// BuildSummary is a read model summarizing one build request.
type BuildSummary struct {
	BuildID          string     `json:"build_id"`
	AppID            string     `json:"app_id"`
	Status           string     `json:"status"`
	QueuedAt         time.Time  `json:"queued_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DurationMS       int64      `json:"duration_ms,omitempty"`
	ArtifactPath     string     `json:"artifact_path,omitempty"`
	Digest           string     `json:"digest,omitempty"`
	Repaired         bool       `json:"repaired,omitempty"`
	ErrorStage       string     `json:"error_stage,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	OperatorRequired bool       `json:"operator_required,omitempty"`
}

func (s *BuildSummary) terminal() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed || s.Status == StatusCanceled
}

// BuildHistoryProjection maintains an in-memory view of build history,
// reconstructed from events stored in the event store.
type BuildHistoryProjection struct {
	mu      sync.RWMutex
	store   Store
	builds  map[string]*BuildSummary
	history []*BuildSummary // finished builds, newest first
	maxSize int
}

// NewBuildHistoryProjection creates a new projection backed by the given store.
func NewBuildHistoryProjection(store Store, maxHistorySize int) *BuildHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 50
	}
	return &BuildHistoryProjection{
		store:   store,
		builds:  make(map[string]*BuildSummary),
		history: make([]*BuildSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all stored events.
func (p *BuildHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.builds = make(map[string]*BuildSummary)
	p.history = make([]*BuildSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	sort.SliceStable(p.history, func(i, j int) bool {
		return finishedAt(p.history[i]).After(finishedAt(p.history[j]))
	})
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()

	return nil
}

// Apply processes a single event and updates the projection.
func (p *BuildHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *BuildHistoryProjection) applyEventLocked(event Event) {
	buildID := event.BuildID()
	if buildID == "" {
		return
	}

	summary, exists := p.builds[buildID]
	if !exists {
		summary = &BuildSummary{BuildID: buildID, Status: StatusQueued, QueuedAt: event.Timestamp()}
		p.builds[buildID] = summary
	}
	ts := event.Timestamp()

	switch event.Type() {
	case TypeBuildQueued:
		var meta BuildQueuedMeta
		if p.decode(event, &meta) {
			summary.AppID = meta.AppID
		}
		summary.QueuedAt = ts

	case TypeBuildStarted:
		var meta BuildStartedMeta
		if p.decode(event, &meta) && meta.AppID != "" {
			summary.AppID = meta.AppID
		}
		summary.StartedAt = &ts
		summary.Status = StatusRunning

	case TypeBuildCompleted:
		var meta BuildCompletedMeta
		if p.decode(event, &meta) {
			summary.ArtifactPath = meta.ArtifactPath
			summary.Digest = meta.Digest
			summary.DurationMS = meta.DurationMS
			summary.Repaired = meta.Repaired
		}
		summary.Status = StatusSucceeded
		summary.CompletedAt = &ts
		p.addToHistoryLocked(summary)

	case TypeBuildFailed:
		var meta BuildFailedMeta
		if p.decode(event, &meta) {
			summary.ErrorStage = meta.Stage
			summary.ErrorMessage = meta.Error
			summary.DurationMS = meta.DurationMS
			summary.OperatorRequired = meta.OperatorRequired
		}
		summary.Status = StatusFailed
		summary.CompletedAt = &ts
		p.addToHistoryLocked(summary)

	case TypeBuildCanceled:
		summary.Status = StatusCanceled
		summary.CompletedAt = &ts
		p.addToHistoryLocked(summary)
	}
}

func (p *BuildHistoryProjection) decode(event Event, v any) bool {
	if err := Decode(event, v); err != nil {
		slog.Warn("Skipping undecodable event payload",
			slog.String("build_id", event.BuildID()),
			slog.String("event_type", event.Type()),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func (p *BuildHistoryProjection) addToHistoryLocked(summary *BuildSummary) {
	for _, h := range p.history {
		if h.BuildID == summary.BuildID {
			return
		}
	}
	p.history = append([]*BuildSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()
}

// pruneBuildsLocked drops finished builds that fell out of the bounded history.
// Caller must hold p.mu (write lock).
func (p *BuildHistoryProjection) pruneBuildsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.BuildID] = struct{}{}
	}
	for id, summary := range p.builds {
		if !summary.terminal() {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.builds, id)
		}
	}
}

func finishedAt(s *BuildSummary) time.Time {
	if s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.QueuedAt
}

// GetHistory returns finished builds, newest first.
func (p *BuildHistoryProjection) GetHistory() []BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]BuildSummary, len(p.history))
	for i, h := range p.history {
		out[i] = *h
	}
	return out
}

// GetBuild returns the summary for a specific build.
func (p *BuildHistoryProjection) GetBuild(buildID string) (BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, ok := p.builds[buildID]
	if !ok {
		return BuildSummary{}, false
	}
	return *summary, true
}
