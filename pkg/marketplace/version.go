package marketplace

import (
	"strconv"
	"strings"
)

// StripV removes a leading v or V from a version or tag name
func StripV(version string) string {
	version = strings.TrimSpace(version)
	if len(version) > 1 && (version[0] == 'v' || version[0] == 'V') && version[1] >= '0' && version[1] <= '9' {
		return version[1:]
	}
	return version
}

// CompareVersions compares two semantic versions, ignoring v prefixes.
// Returns: 1 if v1 > v2, -1 if v1 < v2, 0 if equal.
// A release sorts after any pre-release of the same core version.
func CompareVersions(v1, v2 string) int {
	core1, pre1 := splitVersion(v1)
	core2, pre2 := splitVersion(v2)

	for i := 0; i < 3; i++ {
		if core1[i] > core2[i] {
			return 1
		}
		if core1[i] < core2[i] {
			return -1
		}
	}

	switch {
	case pre1 == pre2:
		return 0
	case pre1 == "":
		return 1
	case pre2 == "":
		return -1
	case pre1 > pre2:
		return 1
	default:
		return -1
	}
}

// splitVersion parses [major, minor, patch] and the pre-release suffix. Build
// metadata is ignored; unparseable parts count as zero.
func splitVersion(version string) ([3]int, string) {
	var core [3]int
	version = StripV(version)
	if i := strings.Index(version, "+"); i >= 0 {
		version = version[:i]
	}

	pre := ""
	if i := strings.Index(version, "-"); i >= 0 {
		pre = version[i+1:]
		version = version[:i]
	}

	parts := strings.Split(version, ".")
	for i := 0; i < 3 && i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err == nil {
			core[i] = n
		}
	}
	return core, pre
}

// SameVersion reports whether two versions are equal ignoring a v prefix
func SameVersion(v1, v2 string) bool {
	return StripV(v1) == StripV(v2)
}
