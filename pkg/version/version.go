// Package version carries build-time version information, injected via
// -ldflags at release build time.
package version

import "fmt"

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full version line.
func String() string {
	return fmt.Sprintf("orion %s (commit: %s, built: %s)", Version, Commit, Date)
}
