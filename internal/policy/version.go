package policy

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// dottedRE matches dotted integer version strings like "2", "2.17", "1.3.9".
var dottedRE = regexp.MustCompile(`^\d+(\.\d+)*$`)

// SymbolVersion is one parsed versioned-symbol token: the version namespace
// (GLIBC, GLIBCXX, CXXABI, GCC, ...) and its dotted version.
type SymbolVersion struct {
	Group   string
	Version string
}

// ParseToken splits a token like "GLIBC_2.17" into its group and version.
// Returns ok=false for tokens whose tail is not a dotted integer version
// (e.g. "GLIBC_PRIVATE"); those are retained by callers but are never
// compatible with a numeric constraint.
func ParseToken(token string) (SymbolVersion, bool) {
	idx := strings.Index(token, "_")
	if idx <= 0 || idx == len(token)-1 {
		return SymbolVersion{}, false
	}
	group, version := token[:idx], token[idx+1:]
	if !dottedRE.MatchString(version) {
		return SymbolVersion{}, false
	}
	return SymbolVersion{Group: group, Version: version}, true
}

// CompareVersions orders two dotted integer versions. Returns a negative
// number when a < b, zero when equal, positive when a > b.
// Versions that fail to parse sort after everything (they can never
// satisfy a maximum).
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	}
	return va.Compare(vb)
}

// MaxVersionPerGroup folds a set of symbol-version tokens down to the
// highest requested version per group. Unparsable tokens are skipped.
func MaxVersionPerGroup(tokens []string) map[string]string {
	max := make(map[string]string)
	for _, token := range tokens {
		sv, ok := ParseToken(token)
		if !ok {
			continue
		}
		if cur, ok := max[sv.Group]; !ok || CompareVersions(sv.Version, cur) > 0 {
			max[sv.Group] = sv.Version
		}
	}
	return max
}
