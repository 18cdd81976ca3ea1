// Package build runs the toolchain against the patched project tree and
// publishes the resulting artifact.
//
// The Executor is the build stage of the pipeline: it clears stale artifacts,
// runs the optional clean step, bounds the toolchain run with the configured
// timeout and copies the artifact into the output store. Its errors are
// classified (stage build or artifact-copy) so callers can report them
// without further inspection.
package build
