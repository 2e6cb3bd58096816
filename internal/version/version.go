// Package version holds the version string stamped into builds.
package version

// Version is overridden at build time via -ldflags.
var Version = "3.3.0-dev"
