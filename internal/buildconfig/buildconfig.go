package buildconfig

import "fmt"

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const Name = "scholae"

func Version() string {
	return version
}

func Commit() string {
	return commit
}

// VersionInfo returns full version information
func VersionInfo() map[string]string {
	return map[string]string{
		"name":    Name,
		"version": version,
		"commit":  commit,
	}
}

func String() string {
	return fmt.Sprintf("%s %s (%s)", Name, version, commit)
}
