package eventstore

import (
	"context"
	"fmt"
)

// Emitter persists build lifecycle events and keeps a projection current.
type Emitter struct {
	store      Store
	projection *BuildHistoryProjection
}

// NewEmitter creates an emitter. The projection is optional.
func NewEmitter(store Store, projection *BuildHistoryProjection) *Emitter {
	return &Emitter{store: store, projection: projection}
}

// Projection returns the projection maintained by the emitter.
func (e *Emitter) Projection() *BuildHistoryProjection { return e.projection }

// EmitEvent persists an event and applies it to the projection.
func (e *Emitter) EmitEvent(ctx context.Context, event Event) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	if e.projection != nil {
		e.projection.Apply(event)
	}
	return nil
}

func (e *Emitter) emit(ctx context.Context, event *BaseEvent, err error) error {
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

// EmitBuildQueued records an accepted request.
func (e *Emitter) EmitBuildQueued(ctx context.Context, buildID string, meta BuildQueuedMeta) error {
	event, err := NewBuildQueued(buildID, meta)
	return e.emit(ctx, event, err)
}

// EmitBuildStarted records the worker picking up a request.
func (e *Emitter) EmitBuildStarted(ctx context.Context, buildID string, meta BuildStartedMeta) error {
	event, err := NewBuildStarted(buildID, meta)
	return e.emit(ctx, event, err)
}

// EmitBuildCompleted records a successful build.
func (e *Emitter) EmitBuildCompleted(ctx context.Context, buildID string, meta BuildCompletedMeta) error {
	event, err := NewBuildCompleted(buildID, meta)
	return e.emit(ctx, event, err)
}

// EmitBuildFailed records a failed build.
func (e *Emitter) EmitBuildFailed(ctx context.Context, buildID string, meta BuildFailedMeta) error {
	event, err := NewBuildFailed(buildID, meta)
	return e.emit(ctx, event, err)
}

// EmitBuildCanceled records a request canceled before it ran.
func (e *Emitter) EmitBuildCanceled(ctx context.Context, buildID string, meta BuildCanceledMeta) error {
	event, err := NewBuildCanceled(buildID, meta)
	return e.emit(ctx, event, err)
}
