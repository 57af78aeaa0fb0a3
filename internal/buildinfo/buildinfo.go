// Package buildinfo carries the version metadata stamped into the
// binary at release time. The Makefile sets these through -ldflags;
// local builds run as "dev".
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns the build and runtime fields as a map for the version
// command and the status API.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime reports how long the process has been running, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is the one-line form logged at startup.
func String() string {
	return fmt.Sprintf("Montage %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// UserAgent identifies outbound HTTP requests from this binary.
func UserAgent() string {
	return fmt.Sprintf("Montage/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
