package scanner

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ExtractVersion returns the first dotted version in a probe's output as a
// canonical "vMAJOR.MINOR.PATCH", or "" when there is none
func ExtractVersion(s string) string {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	return semver.Canonical("v" + m[1] + "." + m[2] + "." + patch)
}

// CanonicalMinVersion normalizes a catalog min_version ("1.2", "v1.2.3").
// Returns "" when s is not a valid version.
func CanonicalMinVersion(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "v") {
		s = "v" + s
	}
	return semver.Canonical(s)
}

// meetsMinVersion reports whether the probed version output satisfies min.
// An output with no recognizable version never satisfies a set minimum.
func meetsMinVersion(output, min string) (string, bool) {
	got := ExtractVersion(output)
	if min == "" {
		return got, true
	}
	if got == "" {
		return got, false
	}
	return got, semver.Compare(got, CanonicalMinVersion(min)) >= 0
}
