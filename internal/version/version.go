// Package version carries build metadata injected through ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Service is the human readable service name.
const Service = "GaslessGamefi Relay Service"

// Build-time variables injected via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Short returns the release without a leading "v", as shown in API responses.
func Short() string {
	return strings.TrimPrefix(Release, "v")
}

// Full returns "release (commit: sha)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform adds the runtime platform to Full.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s)", Release, GitCommit, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the relay on outbound requests.
func UserAgent() string {
	return "gasless-relay/" + Short()
}
