// Package version holds build information, set through -ldflags at release
// time and read from the embedded build info otherwise.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version   string // Set via ldflags.
	Branch    string
	BuildUser string
	BuildDate string

	Revision  = getRevision()
	GoVersion = runtime.Version()
	GoOS      = runtime.GOOS
	GoArch    = runtime.GOARCH
)

// GetVersion returns [Version], or the VCS revision for development builds.
func GetVersion() string {
	if Version != "" {
		return Version
	}

	return Revision
}

// Info returns the build information as attribute pairs, suitable for
// logging.
func Info() []any {
	return []any{
		"version", GetVersion(),
		"revision", Revision,
		"branch", Branch,
		"build_user", BuildUser,
		"build_date", BuildDate,
		"go", GoVersion,
		"platform", GoOS + "/" + GoArch,
	}
}

func getRevision() string {
	rev := "unknown"

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return rev
	}

	modified := false

	for _, v := range buildInfo.Settings {
		switch v.Key {
		case "vcs.revision":
			rev = v.Value[:min(len(v.Value), 7)]

		case "vcs.modified":
			modified = v.Value == "true"
		}
	}

	if modified {
		return rev + "-dirty"
	}

	return rev
}
