// Package version carries the build identity reported by --version and /healthz.
package version

import "fmt"

// Set at link time:
// go build -ldflags "-X git.home.luguber.info/inful/webapk/internal/version.Version=v1.0.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders the version with its commit and build time.
func String() string {
	return fmt.Sprintf("webapk %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
