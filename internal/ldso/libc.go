package ldso

import (
	"debug/elf"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/wheelwright/wheelwright/internal/elffile"
)

// LibcInfo describes the host's C library as seen from a dependent binary.
type LibcInfo struct {
	Flavor  elffile.LibcFlavor
	Version *semver.Version // nil when the flavor is unknown
}

// muslVersionRE matches the version line musl's loader prints on stderr
// when executed directly.
var muslVersionRE = regexp.MustCompile(`Version (\d+)\.(\d+)\.(\d+)`)

// glibcSymbolRE matches the version definitions exported by glibc's libc.so.
var glibcSymbolRE = regexp.MustCompile(`^GLIBC_([0-9.]+)$`)

// DetectLibc determines the libc flavor and version for a dependent binary.
//
// For glibc the version is the highest GLIBC_x.y version node defined by the
// resolved libc.so.6. For musl the interpreter itself is runnable and
// reports its version on stderr; that output is parsed.
func DetectLibc(dep *elffile.File, r *Resolver) (LibcInfo, error) {
	flavor := dep.Libc()
	switch flavor {
	case elffile.LibcGlibc:
		v, err := glibcVersion(dep, r)
		if err != nil {
			return LibcInfo{Flavor: flavor}, err
		}
		return LibcInfo{Flavor: flavor, Version: v}, nil
	case elffile.LibcMusl:
		v, err := muslVersion(dep.Interpreter)
		if err != nil {
			return LibcInfo{Flavor: flavor}, err
		}
		return LibcInfo{Flavor: flavor, Version: v}, nil
	default:
		return LibcInfo{Flavor: elffile.LibcUnknown}, nil
	}
}

// glibcVersion resolves the dependent's libc and reads the highest version
// node it defines.
func glibcVersion(dep *elffile.File, r *Resolver) (*semver.Version, error) {
	soname := "libc.so.6"
	for _, n := range dep.Needed {
		if strings.HasPrefix(n, "libc.so") {
			soname = n
			break
		}
	}
	path, err := r.Resolve(dep, soname, nil)
	if err != nil {
		return nil, fmt.Errorf("locate host libc: %w", err)
	}
	return GlibcVersionOf(path)
}

// GlibcVersionOf returns the highest GLIBC_x.y version node defined by the
// shared object at path.
func GlibcVersionOf(path string) (*semver.Version, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open libc: %w", err)
	}
	defer func() { _ = f.Close() }()

	syms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read libc symbols: %w", err)
	}

	var max *semver.Version
	for _, sym := range syms {
		m := glibcSymbolRE.FindStringSubmatch(sym.Version)
		if m == nil {
			continue
		}
		v, err := semver.NewVersion(m[1])
		if err != nil {
			continue
		}
		if max == nil || v.GreaterThan(max) {
			max = v
		}
	}
	if max == nil {
		return nil, fmt.Errorf("%s defines no GLIBC version nodes", path)
	}
	return max, nil
}

// muslVersion runs the musl loader (which doubles as libc.so) and parses
// the "Version x.y.z" line it writes to stderr.
func muslVersion(interpreter string) (*semver.Version, error) {
	if interpreter == "" {
		return nil, fmt.Errorf("musl binary has no interpreter to probe")
	}

	// The loader exits non-zero when run without arguments; the version
	// banner is still printed.
	cmd := exec.Command(interpreter)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	_ = cmd.Run()

	return ParseMuslVersion(stderr.String())
}

// ParseMuslVersion extracts the musl version from loader stderr output.
func ParseMuslVersion(output string) (*semver.Version, error) {
	m := muslVersionRE.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("no musl version in loader output")
	}
	return semver.NewVersion(fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3]))
}
