// Package version holds build information set via ldflags:
//
//	go build -ldflags "-X github.com/HerbHall/sitecheck/internal/version.Version=v0.3.0 ..."
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Short returns the bare version, "dev" for local builds.
func Short() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// Info returns version with build information.
// Format: "sitecheck v0.3.0 (commit: abc123, built: 2026-03-01T10:30:00Z, go1.25.7)"
func Info() string {
	return fmt.Sprintf("sitecheck %s (commit: %s, built: %s, %s)", Short(), Commit, BuildDate, runtime.Version())
}
