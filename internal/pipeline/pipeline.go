// Package pipeline runs one build request against the shared project tree:
// recovery, patch, build and artifact copy, strictly in that order.
package pipeline

import (
	"context"
	"os"
	"time"

	"git.home.luguber.info/inful/webapk/internal/baseline"
	"git.home.luguber.info/inful/webapk/internal/build"
	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/metrics"
	"git.home.luguber.info/inful/webapk/internal/observability"
	"git.home.luguber.info/inful/webapk/internal/output"
	"git.home.luguber.info/inful/webapk/internal/patch"
	"git.home.luguber.info/inful/webapk/internal/recovery"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/toolchain"
)

// Progress checkpoints reported before the build step.
const (
	ProgressRecovering  = 5
	ProgressConfiguring = 20
)

// Pipeline implements queue.Runner.
type Pipeline struct {
	store      *baseline.Store
	supervisor *recovery.Supervisor
	engine     *patch.Engine
	executor   *build.Executor
	recorder   metrics.Recorder
}

var _ queue.Runner = (*Pipeline)(nil)

// New assembles a pipeline from its stages.
func New(store *baseline.Store, supervisor *recovery.Supervisor, engine *patch.Engine, executor *build.Executor) *Pipeline {
	return &Pipeline{
		store:      store,
		supervisor: supervisor,
		engine:     engine,
		executor:   executor,
		recorder:   metrics.NoopRecorder{},
	}
}

// SetRecorder injects a metrics recorder.
func (p *Pipeline) SetRecorder(r metrics.Recorder) {
	if r != nil {
		p.recorder = r
	}
}

// Run executes the request and converts every failure into a Result at this
// boundary.
func (p *Pipeline) Run(ctx context.Context, req *request.BuildRequest, progress toolchain.ProgressFunc) queue.Result {
	report := func(percent int, msg string) {
		if progress != nil {
			progress(percent, msg)
		}
	}
	defer p.cleanupSite(ctx, req)

	var rec recovery.Report
	report(ProgressRecovering, "Checking project tree...")
	if err := p.stage(ctx, errors.StageRecovery, func(ctx context.Context) error {
		var err error
		rec, err = p.supervisor.Reconcile(ctx)
		return err
	}); err != nil {
		return queue.Failure(req.AppID, err, errors.StageRecovery)
	}

	report(ProgressConfiguring, "Configuring project...")
	if err := p.stage(ctx, errors.StagePatch, func(ctx context.Context) error {
		st, err := p.store.Load()
		if err != nil {
			return errors.WrapError(err, errors.CategoryPatch, "failed to load baseline state").
				WithStage(errors.StagePatch).Build()
		}
		_, err = p.engine.Apply(ctx, st, req)
		return err
	}); err != nil {
		p.recordBuildResult(ctx, false, "")
		return withRepair(queue.Failure(req.AppID, err, errors.StagePatch), rec)
	}

	var art output.Artifact
	if err := p.stage(ctx, errors.StageBuild, func(ctx context.Context) error {
		var err error
		art, err = p.executor.Run(ctx, req, progress)
		return err
	}); err != nil {
		p.recordBuildResult(ctx, false, "")
		return withRepair(queue.Failure(req.AppID, err, errors.StageBuild), rec)
	}

	p.recordBuildResult(ctx, true, art.Path)
	return queue.Result{
		Status:         queue.StatusSucceeded,
		AppID:          req.AppID,
		ArtifactPath:   art.Path,
		ArtifactDigest: art.Digest,
		Message:        "Done!",
		Repaired:       rec.Repaired,
	}
}

func withRepair(r queue.Result, rec recovery.Report) queue.Result {
	r.Repaired = rec.Repaired
	return r
}

func (p *Pipeline) stage(ctx context.Context, name errors.Stage, fn func(context.Context) error) error {
	start := time.Now()
	ctx = observability.WithStage(ctx, string(name))
	err := fn(ctx)
	p.recorder.ObserveStageDuration(string(name), time.Since(start))
	if err != nil {
		p.recorder.IncStageResult(string(name), metrics.ResultFatal)
		observability.ErrorContext(ctx, "Stage failed", logfields.Error(err))
		return err
	}
	p.recorder.IncStageResult(string(name), metrics.ResultSuccess)
	observability.DebugContext(ctx, "Stage complete", logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

func (p *Pipeline) recordBuildResult(ctx context.Context, ok bool, artifactPath string) {
	if _, err := p.store.Update(func(st *baseline.State) {
		st.LastBuildSucceeded = ok
		if ok {
			st.LastKnownGoodPath = artifactPath
		}
	}); err != nil {
		observability.WarnContext(ctx, "Failed to record build result in baseline", logfields.Error(err))
	}
}

func (p *Pipeline) cleanupSite(ctx context.Context, req *request.BuildRequest) {
	if req.Site == nil || !req.Site.Ephemeral || req.Site.Dir == "" {
		return
	}
	if err := os.RemoveAll(req.Site.Dir); err != nil {
		observability.WarnContext(ctx, "Failed to remove staged content", logfields.Path(req.Site.Dir), logfields.Error(err))
	}
}
