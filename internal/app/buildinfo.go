package app

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
	// Commit is filled by ldflags; otherwise the VCS stamp of the binary is used.
	Commit = ""

	readBuildInfo = debug.ReadBuildInfo
)

const shortCommitLen = 7

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version string
	Date    string
	Commit  string
	Dirty   bool
	Go      string
}

func CurrentBuildInfo() BuildInfo {
	info := BuildInfo{
		Version: strings.TrimSpace(Version),
		Date:    buildDateYMD(BuildDate),
		Commit:  strings.TrimSpace(Commit),
		Go:      runtime.Version(),
	}
	if info.Version == "" {
		info.Version = "dev"
	}

	if bi, ok := readBuildInfo(); ok && bi != nil {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = setting.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = buildDateYMD(setting.Value)
				}
			case "vcs.modified":
				info.Dirty = setting.Value == "true"
			}
		}
	}
	if len(info.Commit) > shortCommitLen {
		info.Commit = info.Commit[:shortCommitLen]
	}

	return info
}

// String renders e.g. "0.1.2 (2026-01-30, abc1234)".
func (b BuildInfo) String() string {
	var details []string
	if b.Date != "" {
		details = append(details, b.Date)
	}
	if b.Commit != "" {
		commit := b.Commit
		if b.Dirty {
			commit += "-dirty"
		}
		details = append(details, commit)
	}
	if len(details) == 0 {
		return b.Version
	}

	return fmt.Sprintf("%s (%s)", b.Version, strings.Join(details, ", "))
}

// VersionLine is what the version command prints.
func VersionLine() string {
	info := CurrentBuildInfo()

	return fmt.Sprintf("%s %s %s/%s %s", Name, info, runtime.GOOS, runtime.GOARCH, info.Go)
}

func buildDateYMD(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC().Format("2006-01-02")
	}

	if len(raw) >= len("2006-01-02") {
		date := raw[:len("2006-01-02")]
		if _, err := time.Parse("2006-01-02", date); err == nil {
			return date
		}
	}

	return raw
}
