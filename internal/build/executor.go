package build

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/observability"
	"git.home.luguber.info/inful/webapk/internal/output"
	"git.home.luguber.info/inful/webapk/internal/project"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/toolchain"
)

// Progress checkpoints reported around the toolchain run.
const (
	ProgressCleaning   = 45
	ProgressBuilding   = toolchain.BuildBaseProgress
	ProgressVerifying  = 96
	ProgressFinalizing = 98
)

// Executor builds the project tree and publishes the artifact.
type Executor struct {
	tree      *project.Tree
	toolchain toolchain.Toolchain
	store     *output.Store
	cacheDir  string
	timeout   atomic.Int64
}

// NewExecutor creates an executor with the given build timeout.
func NewExecutor(tree *project.Tree, tc toolchain.Toolchain, store *output.Store, cacheDir string, timeout time.Duration) *Executor {
	e := &Executor{tree: tree, toolchain: tc, store: store, cacheDir: cacheDir}
	e.SetTimeout(timeout)
	return e
}

// SetTimeout changes the bound applied to subsequent builds. Non-positive
// values disable the bound.
func (e *Executor) SetTimeout(d time.Duration) {
	e.timeout.Store(int64(d))
}

// Timeout returns the current build bound.
func (e *Executor) Timeout() time.Duration {
	return time.Duration(e.timeout.Load())
}

// Run builds the tree for req and publishes the artifact.
func (e *Executor) Run(ctx context.Context, req *request.BuildRequest, progress toolchain.ProgressFunc) (output.Artifact, error) {
	report := func(p int, msg string) {
		if progress != nil {
			progress(p, msg)
		}
	}
	ctx = observability.WithStage(ctx, string(errors.StageBuild))

	if _, err := e.tree.Apply(ctx, project.RemoveFile{Target: e.tree.Layout().ArtifactPath}); err != nil {
		return output.Artifact{}, errors.WrapError(err, errors.CategoryBuild, "failed to remove stale artifact").
			WithStage(errors.StageBuild).Build()
	}

	inv := toolchain.Invocation{
		ProjectPath: e.tree.Root(),
		CacheDir:    e.cacheDir,
		OutputDir:   e.store.AppDir(req.AppID),
		Progress:    progress,
	}

	report(ProgressCleaning, "Cleaning previous builds...")
	if err := e.toolchain.Clean(ctx, inv); err != nil {
		observability.WarnContext(ctx, "Clean step failed; continuing", logfields.Error(err))
	}

	report(ProgressBuilding, "Building APK...")
	buildCtx := ctx
	timeout := e.Timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := e.toolchain.RunBuild(buildCtx, inv)
	if err != nil {
		return output.Artifact{}, classifyRunError(ctx, err, timeout, out)
	}
	if out.ExitCode != 0 {
		return output.Artifact{}, errors.BuildError("build command failed").
			WithContext("exit_code", out.ExitCode).
			WithContext("output", strings.Join(out.Tail, "\n")).
			Build()
	}
	report(ProgressVerifying, "Verifying APK...")
	if !out.ArtifactPresent {
		return output.Artifact{}, errors.BuildError("build finished without producing an artifact").
			WithContext("artifact_path", e.tree.Layout().ArtifactPath).
			WithContext("output", strings.Join(out.Tail, "\n")).
			Build()
	}
	observability.InfoContext(ctx, "Build command succeeded",
		logfields.AppID(req.AppID),
		logfields.DurationMS(float64(out.Duration.Milliseconds())))

	report(ProgressFinalizing, "Finalizing...")
	art, err := e.store.Publish(ctx, req.AppID, e.tree.ArtifactPath(), output.Metadata{
		DisplayName: req.ResolvedDisplayName(),
		IconPath:    req.IconPath,
	})
	if err != nil {
		return output.Artifact{}, errors.ArtifactError("failed to copy artifact to output store").
			WithCause(err).
			WithContext("app_id", req.AppID).
			Build()
	}
	return art, nil
}

func classifyRunError(ctx context.Context, err error, timeout time.Duration, out toolchain.Outcome) error {
	tail := strings.Join(out.Tail, "\n")
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		slog.WarnContext(ctx, "Build exceeded timeout", slog.Duration("timeout", timeout))
		return errors.TimeoutError("build exceeded time limit").
			WithCause(err).
			WithContext("timeout", timeout.String()).
			WithContext("output", tail).
			Build()
	case ctx.Err() != nil:
		return errors.BuildError("build interrupted").WithCause(err).Build()
	default:
		return errors.WrapError(err, errors.CategoryBuild, "failed to run build command").
			WithStage(errors.StageBuild).
			WithContext("output", tail).
			Build()
	}
}
