// Package version exposes build metadata stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of this build.
	Version = "0.1.0"
	// Commit is the VCS revision, set at build time.
	Commit = "unknown"
	// Date is the build timestamp, set at build time.
	Date = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a human-readable build description.
func Info() string {
	return fmt.Sprintf("coresentry %s (commit %s, built %s)", Version, Commit, Date)
}
