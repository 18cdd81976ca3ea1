// Package workspace manages staging directories for build content, supporting
// both ephemeral (per-request) and persistent (fixed-path) modes.
//
// Ephemeral mode creates uniquely named directories (e.g. webapk-20251214-122336-1234)
// that hold an extracted archive until the build that uses it has finished.
//
// Persistent mode uses a fixed directory path (e.g. cache/git) that survives
// across builds, so git checkouts can be updated incrementally.
//
// Prune removes ephemeral directories left behind by crashed or abandoned builds.
package workspace
