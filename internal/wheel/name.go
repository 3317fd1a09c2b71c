// Package wheel reads and writes wheel archives: the filename tag
// vocabulary, the .dist-info metadata records, and deterministic
// zip packing.
package wheel

import (
	"fmt"
	"sort"
	"strings"
)

// Name is a parsed wheel filename:
// {dist}-{version}(-{build})?-{py}-{abi}-{plat}.whl
// Tag segments may hold several tags joined with '.'.
type Name struct {
	Distribution string
	Version      string
	Build        string
	PyTags       []string
	AbiTags      []string
	PlatTags     []string
}

// ParseName parses a wheel filename (no directory part).
func ParseName(filename string) (*Name, error) {
	stem, ok := strings.CutSuffix(filename, ".whl")
	if !ok {
		return nil, fmt.Errorf("%q is not a wheel filename", filename)
	}

	parts := strings.Split(stem, "-")
	n := &Name{}
	switch len(parts) {
	case 5:
		n.Distribution, n.Version = parts[0], parts[1]
		n.PyTags = strings.Split(parts[2], ".")
		n.AbiTags = strings.Split(parts[3], ".")
		n.PlatTags = strings.Split(parts[4], ".")
	case 6:
		n.Distribution, n.Version, n.Build = parts[0], parts[1], parts[2]
		n.PyTags = strings.Split(parts[3], ".")
		n.AbiTags = strings.Split(parts[4], ".")
		n.PlatTags = strings.Split(parts[5], ".")
	default:
		return nil, fmt.Errorf("%q: expected 5 or 6 dash-separated fields, got %d", filename, len(parts))
	}
	if n.Distribution == "" || n.Version == "" {
		return nil, fmt.Errorf("%q: empty distribution or version", filename)
	}
	return n, nil
}

// String reassembles the wheel filename.
func (n *Name) String() string {
	fields := []string{n.Distribution, n.Version}
	if n.Build != "" {
		fields = append(fields, n.Build)
	}
	fields = append(fields,
		strings.Join(n.PyTags, "."),
		strings.Join(n.AbiTags, "."),
		strings.Join(n.PlatTags, "."),
	)
	return strings.Join(fields, "-") + ".whl"
}

// IsPlatformSpecific reports whether any platform tag claims a real
// platform (anything except "any").
func (n *Name) IsPlatformSpecific() bool {
	for _, t := range n.PlatTags {
		if t != "any" {
			return true
		}
	}
	return false
}

// ReplacedPlatforms returns the tags a new platform tag supersedes: a
// manylinux/musllinux tag replaces the plain linux tag of its architecture.
func ReplacedPlatforms(tag string) []string {
	if strings.HasPrefix(tag, "linux") {
		return nil
	}
	parts := strings.Split(tag, "_")
	if strings.HasPrefix(tag, "manylinux_") || strings.HasPrefix(tag, "musllinux_") {
		// PEP 600 style: family_maj_min_arch
		if len(parts) < 4 {
			return nil
		}
		return []string{"linux_" + strings.Join(parts[3:], "_")}
	}
	// Legacy aliases: family_arch
	if len(parts) < 2 {
		return nil
	}
	return []string{"linux_" + strings.Join(parts[1:], "_")}
}

// AddPlatforms computes the new platform tag set: existing tags minus the
// superseded ones, plus the added ones, sorted and de-duplicated.
func AddPlatforms(existing, add []string) []string {
	drop := make(map[string]bool)
	for _, tag := range add {
		for _, r := range ReplacedPlatforms(tag) {
			drop[r] = true
		}
	}

	set := make(map[string]bool)
	for _, tag := range existing {
		if !drop[tag] {
			set[tag] = true
		}
	}
	for _, tag := range add {
		set[tag] = true
	}

	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
