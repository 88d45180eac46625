// Package version exposes build-time version metadata, set via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the worker release version.
	Version = "0.1.0"

	// GitCommit is the git commit hash the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the time the binary was built, RFC3339.
	BuildTime = "unknown"

	// GoVersion is the Go toolchain version used to build the binary.
	GoVersion = runtime.Version()
)

// FullVersion returns a human-readable version string for logs and banners.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent returns the "jinn-worker/<Version>" identification string. No
// HTTP client in this module sets it as its User-Agent header.
func UserAgent() string {
	return fmt.Sprintf("jinn-worker/%s", Version)
}
