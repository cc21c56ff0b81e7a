// Package version holds build metadata, overridable through ldflags.
package version

var (
	Version = "0.2.0"
	Date    = "unknown"
)
