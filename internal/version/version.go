// Package version holds build metadata, overridable at link time:
//
//	go build -ldflags "-X github.com/cerebric/cerebric/internal/version.Version=v0.3.0"
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
