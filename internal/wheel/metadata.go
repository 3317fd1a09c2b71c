package wheel

import (
	"fmt"
	"sort"
	"strings"
)

// Metadata is a parsed .dist-info/WHEEL file. Lines other than Tag: are
// preserved byte-for-byte in their original order.
type Metadata struct {
	lines   []string // non-Tag lines, with a "" placeholder where tags sat
	tagSlot int      // index in lines where Tag lines are emitted
	pyAbi   [][2]string
	plats   []string
}

// ParseMetadata parses the WHEEL text record. It requires a Wheel-Version
// header and at least one Tag line.
func ParseMetadata(content []byte) (*Metadata, error) {
	m := &Metadata{tagSlot: -1}
	sawVersion := false
	seenPyAbi := make(map[string]bool)
	seenPlat := make(map[string]bool)

	for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Wheel-Version:") {
			sawVersion = true
		}
		if !strings.HasPrefix(trimmed, "Tag:") {
			m.lines = append(m.lines, line)
			continue
		}

		tag := strings.TrimSpace(strings.TrimPrefix(trimmed, "Tag:"))
		parts := strings.SplitN(tag, "-", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed Tag line %q", line)
		}
		if m.tagSlot < 0 {
			m.tagSlot = len(m.lines)
			m.lines = append(m.lines, "")
		}
		key := parts[0] + "-" + parts[1]
		if !seenPyAbi[key] {
			seenPyAbi[key] = true
			m.pyAbi = append(m.pyAbi, [2]string{parts[0], parts[1]})
		}
		for _, plat := range strings.Split(parts[2], ".") {
			if !seenPlat[plat] {
				seenPlat[plat] = true
				m.plats = append(m.plats, plat)
			}
		}
	}

	if !sawVersion {
		return nil, fmt.Errorf("WHEEL record lacks Wheel-Version")
	}
	if m.tagSlot < 0 {
		return nil, fmt.Errorf("WHEEL record lacks Tag lines")
	}
	return m, nil
}

// Platforms returns the platform tags currently claimed.
func (m *Metadata) Platforms() []string {
	return append([]string(nil), m.plats...)
}

// SetPlatforms replaces the platform tag set.
func (m *Metadata) SetPlatforms(plats []string) {
	m.plats = append([]string(nil), plats...)
	sort.Strings(m.plats)
}

// Render serializes the WHEEL record with one Tag line per
// (python, abi, platform) combination.
func (m *Metadata) Render() []byte {
	var b strings.Builder
	for i, line := range m.lines {
		if i == m.tagSlot {
			for _, pa := range m.pyAbi {
				for _, plat := range m.plats {
					fmt.Fprintf(&b, "Tag: %s-%s-%s\n", pa[0], pa[1], plat)
				}
			}
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return []byte(b.String())
}
