// Package version holds build identification for esmloader.
package version

import (
	"fmt"
	"runtime"
)

// Overridden at build time:
// go build -ldflags "-X esmloader/internal/version.Version=1.0.0 -X esmloader/internal/version.Commit=abc123"
var (
	Version   = "0.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns the version with a short commit suffix when known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns multi-line version information.
func Full() string {
	return fmt.Sprintf("esmloader version %s\nCommit: %s\nBuilt: %s\nGo: %s %s/%s",
		Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
