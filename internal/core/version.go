package core

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var Version string

func init() {
	Version = resolveVersion(debug.ReadBuildInfo())
}

// resolveVersion derives the warden version from build info.
// Tagged module versions win; local builds fall back to the VCS revision.
func resolveVersion(info *debug.BuildInfo, ok bool) string {
	if !ok || info == nil {
		return "devel"
	}

	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return v
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if revision == "" {
		return "devel"
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}

	v := fmt.Sprintf("devel-%s", revision)
	if dirty {
		v += "-dirty"
	}
	return v
}

// FormatVersion strips the "v" prefix of tagged releases.
// "v1.2.0" becomes "1.2.0", devel versions pass through unchanged.
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// RuntimeVersions reports the versions shown on the status endpoint
func RuntimeVersions() map[string]string {
	return map[string]string{
		"warden": FormatVersion(Version),
		"go":     runtime.Version(),
	}
}

// isPseudoVersion reports whether v looks like a Go module pseudo-version,
// e.g. v0.0.0-20260217105831-82903d1d8810.
func isPseudoVersion(v string) bool {
	if i := strings.Index(v, "+"); i >= 0 {
		v = v[:i]
	}
	i := strings.LastIndex(v, "-")
	if i < 0 {
		return false
	}
	hash := v[i+1:]
	if len(hash) != 12 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
