// Package buildinfo holds version metadata stamped at compile time via ldflags.
package buildinfo

import "fmt"

// These variables are set at build time via -ldflags.
var (
	Name      = "mini-mcp-client"
	Version   = "1.0.0"
	GitCommit = "unknown"
)

// UserAgent returns the User-Agent sent on every outbound request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}
