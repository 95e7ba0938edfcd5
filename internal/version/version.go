// Package version holds build-time version information.
// The variables are overridden at link time via -ldflags.
package version

var (
	// Version is the semantic version of the build
	Version = "dev"

	// Commit is the git commit hash the binary was built from
	Commit = "unknown"

	// BuildTime is the timestamp of the build
	BuildTime = "unknown"
)
