package app

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
)

const shortRevisionLen = 7

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// BuildVersion returns the release version, or "dev+<revision>" for local
// builds that carry VCS stamps.
func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version != "" && version != "dev" {
		return version
	}
	if rev := vcsRevision(); rev != "" {
		return "dev+" + rev
	}

	return "dev"
}

func vcsRevision() string {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key != "vcs.revision" {
			continue
		}
		rev := strings.TrimSpace(setting.Value)
		if len(rev) > shortRevisionLen {
			rev = rev[:shortRevisionLen]
		}

		return rev
	}

	return ""
}

func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC().Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		if _, err := time.Parse(time.DateOnly, raw[:len(time.DateOnly)]); err == nil {
			return raw[:len(time.DateOnly)]
		}
	}

	return raw
}

func BuildVersionWithDate() string {
	version := BuildVersion()
	if buildDate := BuildDateYMD(); buildDate != "" {
		return fmt.Sprintf("%s (%s)", version, buildDate)
	}

	return version
}

// HTTPUserAgent is sent with every Talk API request.
func HTTPUserAgent() string {
	return UserAgent + BuildVersion()
}
