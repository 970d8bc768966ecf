// Package version provides build version information.
// Version is set at build time via ldflags:
// go build -ldflags "-X github.com/puppeteer-mcp/puppeteer-mcp/pkg/version.Version=1.0.0"
package version

import "runtime"

// Version is the application version, set at build time.
var Version = "dev"

// Commit is the git commit hash, set at build time.
var Commit = ""

// Full returns the full version string.
func Full() string {
	if Commit != "" && len(Commit) >= 7 {
		return Version + "+" + Commit[:7]
	}
	return Version
}

// GoVersion returns the Go runtime version.
func GoVersion() string {
	return runtime.Version()
}
