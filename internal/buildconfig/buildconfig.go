package buildconfig

import "fmt"

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// Version returns the build version
func Version() string {
	return version
}

// Commit returns the git commit hash
func Commit() string {
	return commit
}

// String returns a printable "version (commit)" form.
func String() string {
	return fmt.Sprintf("%s (%s)", version, commit)
}
