// Package version provides build-time version information for pagehub.
package version

var (
	// Version is the semantic version, set via ldflags.
	Version = "dev"
	// Commit is the short git commit hash, set via ldflags.
	Commit = "unknown"
	// GitTime is the commit timestamp in ISO 8601 UTC format, set via ldflags.
	GitTime = "unknown"
)

// Info returns the build information as a map, suitable for JSON responses.
func Info() map[string]string {
	return map[string]string{
		"version":  Version,
		"commit":   Commit,
		"git_time": GitTime,
	}
}
