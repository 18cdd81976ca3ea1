// Package git fetches web content from Git remotes for bundling into an app.
//
// This package handles:
//   - Shallow clones into a per-remote cache directory
//   - Updates of an already cached checkout (fetch and hard reset)
//   - Retry with backoff for transient failures
//   - Classification of go-git errors into ClassifiedErrors
//
// A cached checkout is owned by the client; local modifications are
// discarded on every sync.
package git
