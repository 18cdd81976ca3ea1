package queue

import (
	"context"
	stdErrors "errors"

	"git.home.luguber.info/inful/webapk/internal/eventstore"
)

// BuildEventEmitter abstracts event emission for build lifecycle events.
type BuildEventEmitter interface {
	EmitBuildQueued(ctx context.Context, buildID string, meta eventstore.BuildQueuedMeta) error
	EmitBuildStarted(ctx context.Context, buildID string, meta eventstore.BuildStartedMeta) error
	EmitBuildCompleted(ctx context.Context, buildID string, meta eventstore.BuildCompletedMeta) error
	EmitBuildFailed(ctx context.Context, buildID string, meta eventstore.BuildFailedMeta) error
	EmitBuildCanceled(ctx context.Context, buildID string, meta eventstore.BuildCanceledMeta) error
}

// MultiEmitter fans events out to several emitters. Every emitter is called;
// the errors are joined.
type MultiEmitter []BuildEventEmitter

func (m MultiEmitter) each(fn func(BuildEventEmitter) error) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := fn(e); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

func (m MultiEmitter) EmitBuildQueued(ctx context.Context, id string, meta eventstore.BuildQueuedMeta) error {
	return m.each(func(e BuildEventEmitter) error { return e.EmitBuildQueued(ctx, id, meta) })
}

func (m MultiEmitter) EmitBuildStarted(ctx context.Context, id string, meta eventstore.BuildStartedMeta) error {
	return m.each(func(e BuildEventEmitter) error { return e.EmitBuildStarted(ctx, id, meta) })
}

func (m MultiEmitter) EmitBuildCompleted(ctx context.Context, id string, meta eventstore.BuildCompletedMeta) error {
	return m.each(func(e BuildEventEmitter) error { return e.EmitBuildCompleted(ctx, id, meta) })
}

func (m MultiEmitter) EmitBuildFailed(ctx context.Context, id string, meta eventstore.BuildFailedMeta) error {
	return m.each(func(e BuildEventEmitter) error { return e.EmitBuildFailed(ctx, id, meta) })
}

func (m MultiEmitter) EmitBuildCanceled(ctx context.Context, id string, meta eventstore.BuildCanceledMeta) error {
	return m.each(func(e BuildEventEmitter) error { return e.EmitBuildCanceled(ctx, id, meta) })
}
