// Package version holds build-time version information injected via ldflags.
package version

import "fmt"

// These variables are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the version for humans.
func String() string {
	return fmt.Sprintf("upwatch %s (commit %s, built %s)", Version, Commit, Date)
}

// UserAgent is the default User-Agent sent by probes.
func UserAgent() string {
	return "upwatch/" + Version
}
