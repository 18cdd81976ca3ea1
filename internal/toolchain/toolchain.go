package toolchain

import (
	"context"
	"time"
)

// ProgressFunc receives build progress as a percentage and a short message.
type ProgressFunc func(percent int, message string)

// Invocation describes one toolchain run.
type Invocation struct {
	// ProjectPath is the absolute root of the project tree.
	ProjectPath string
	// CacheDir is exported to the build script as CACHE_DIR.
	CacheDir string
	// OutputDir is exported as OUTPUT_DIR when set.
	OutputDir string
	Progress  ProgressFunc
}

func (inv Invocation) report(percent int, message string) {
	if inv.Progress != nil {
		inv.Progress(percent, message)
	}
}

// Outcome is what a completed build process left behind.
type Outcome struct {
	ExitCode        int
	ArtifactPresent bool
	Tail            []string
	Duration        time.Duration
}

// Succeeded reports whether the process exited cleanly and produced the artifact.
func (o Outcome) Succeeded() bool {
	return o.ExitCode == 0 && o.ArtifactPresent
}

// Toolchain builds the project tree.
//
// RunBuild returns an error only when the process could not be started or the
// context ended before it finished; a failing build is reported through the
// Outcome exit code.
type Toolchain interface {
	RunBuild(ctx context.Context, inv Invocation) (Outcome, error)
	Clean(ctx context.Context, inv Invocation) error
}
