package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current version of noderes, set with -ldflags at build time
	Version = "v0.1.0-dev"
	// GitCommit is the git commit that was compiled
	GitCommit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
	// GoVersion is the version of Go that was used to compile
	GoVersion = runtime.Version()
)

// Info represents version information
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
}

// String returns the one-line form printed by --version
func (i Info) String() string {
	return fmt.Sprintf("noderes %s (commit %s, built %s, %s)",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}

// UserAgent identifies noderes to the Kubernetes API server
func UserAgent() string {
	return fmt.Sprintf("noderes/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
