// Package versions reports build information for the scroll sync server.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const unknownStr = "unknown"

// Version information set by build using -ldflags
var (
	Version = "dev"
	//nolint:goconst // placeholder overridden at build time
	Commit = unknownStr
	//nolint:goconst // placeholder overridden at build time
	BuildDate = unknownStr
)

// VersionInfo represents the version information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information
func GetVersionInfo() VersionInfo {
	commit, buildDate := Commit, BuildDate
	if strings.HasPrefix(Version, "dev") {
		commit, buildDate = fromBuildInfo(commit, buildDate)
	}
	return newVersionInfo(Version, commit, buildDate)
}

func fromBuildInfo(commit, buildDate string) (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, buildDate
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == unknownStr {
				commit = setting.Value
			}
		case "vcs.time":
			if buildDate == unknownStr {
				buildDate = setting.Value
			}
		}
	}
	return commit, buildDate
}

func newVersionInfo(version, commit, buildDate string) VersionInfo {
	if buildDate != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
			buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
		}
	}

	return VersionInfo{
		Version:   normalizeVersion(version, commit),
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// normalizeVersion renders semver versions as vMAJOR.MINOR.PATCH[-pre][+meta].
// A plain "dev" build is named after its commit; other strings are returned as-is.
func normalizeVersion(version, commit string) string {
	if version == "dev" {
		return fmt.Sprintf("build-%.*s", 8, commit)
	}
	if v, err := semver.NewVersion(version); err == nil {
		return "v" + v.String()
	}
	return version
}
