// Package content materializes the web site of a build request.
//
// Archives are extracted into an ephemeral staging workspace, git remotes are
// synced into a cache checkout (or converted into a live URL), and plain URLs
// pass through untouched. The resulting request.Site carries the entry URL
// injected into the app and the entry page title used as a display name
// fallback.
package content
