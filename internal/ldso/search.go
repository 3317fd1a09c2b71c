package ldso

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/wheelwright/wheelwright/internal/elffile"
	"github.com/wheelwright/wheelwright/internal/log"
)

// ResolveError records a soname that could not be located for a dependent.
// Inspection records it and moves on; repair treats it as fatal when the
// library is selected for grafting.
type ResolveError struct {
	Soname    string
	Dependent string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve %q needed by %s", e.Soname, e.Dependent)
}

// Resolver locates needed libraries the way the runtime linker would.
//
// The zero value searches only DT_RUNPATH/DT_RPATH and the default trusted
// directories. Callers opt into LD_LIBRARY_PATH by setting LibraryPath and
// into the ldconfig cache by setting Cache.
type Resolver struct {
	// Cache is the parsed ld.so.cache, or nil to skip cache lookups.
	Cache *Cache

	// LibraryPath holds the LD_LIBRARY_PATH entries to consult, already
	// split. Nil means the environment is not consulted; the CLI passes
	// the real value, tests pin their own.
	LibraryPath []string

	// NoChainWalk disables the legacy traversal of ancestor DT_RPATHs.
	// The walk only ever applies when the dependent has no DT_RUNPATH.
	NoChainWalk bool

	// Log receives per-candidate search traces at debug level.
	Log log.Logger
}

// defaultTrustedDirs returns the linker's built-in search directories for
// the dependent's ABI. 64-bit ABIs search the lib64 variants first.
func defaultTrustedDirs(arch string) []string {
	if elffile.Is64Bit(arch) {
		return []string{"/lib64", "/usr/lib64", "/lib", "/usr/lib"}
	}
	return []string{"/lib", "/usr/lib"}
}

// expandTokens substitutes the dynamic-linker string tokens $ORIGIN, $LIB
// and $PLATFORM (brace forms included) for one dependent binary.
func expandTokens(entry string, dep *elffile.File) string {
	libDir := "lib"
	if elffile.Is64Bit(dep.Arch) {
		libDir = "lib64"
	}
	replacements := []struct{ token, value string }{
		{"${ORIGIN}", filepath.Dir(dep.Path)},
		{"$ORIGIN", filepath.Dir(dep.Path)},
		{"${LIB}", libDir},
		{"$LIB", libDir},
		{"${PLATFORM}", dep.Arch},
		{"$PLATFORM", dep.Arch},
	}
	for _, r := range replacements {
		entry = strings.ReplaceAll(entry, r.token, r.value)
	}
	return entry
}

// Resolve locates soname for the dependent binary dep. parents is the
// transitive parent chain (nearest first) used for the legacy DT_RPATH walk.
//
// The search order is the deterministic part of the runtime linker's:
// literal paths, DT_RUNPATH (else DT_RPATH plus the ancestor chain),
// LD_LIBRARY_PATH, the ld.so cache, then the default trusted directories.
// A candidate is accepted only if it parses as ELF and matches the
// dependent's class and machine.
func (r *Resolver) Resolve(dep *elffile.File, soname string, parents []*elffile.File) (string, error) {
	logger := r.Log
	if logger == nil {
		logger = log.Default()
	}

	// A slash makes the entry a path, not a search key.
	if strings.Contains(soname, "/") {
		p := soname
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(dep.Path), p)
		}
		if r.usable(p, dep) {
			return p, nil
		}
		return "", &ResolveError{Soname: soname, Dependent: dep.Path}
	}

	for _, dir := range r.searchDirs(dep, parents) {
		candidate := filepath.Join(dir, soname)
		if r.usable(candidate, dep) {
			logger.Debug("resolved", "soname", soname, "path", candidate)
			return candidate, nil
		}
	}

	for _, candidate := range r.Cache.Lookup(soname) {
		if r.usable(candidate, dep) {
			logger.Debug("resolved from cache", "soname", soname, "path", candidate)
			return candidate, nil
		}
	}

	for _, dir := range defaultTrustedDirs(dep.Arch) {
		candidate := filepath.Join(dir, soname)
		if r.usable(candidate, dep) {
			logger.Debug("resolved from trusted dir", "soname", soname, "path", candidate)
			return candidate, nil
		}
	}

	return "", &ResolveError{Soname: soname, Dependent: dep.Path}
}

// searchDirs assembles the per-dependent directory list that precedes the
// cache: RUNPATH (else RPATH and the ancestor RPATH chain), then
// LD_LIBRARY_PATH.
func (r *Resolver) searchDirs(dep *elffile.File, parents []*elffile.File) []string {
	var dirs []string

	if len(dep.RunPaths) > 0 {
		for _, e := range dep.RunPaths {
			dirs = append(dirs, expandTokens(e, dep))
		}
	} else {
		for _, e := range dep.RPaths {
			dirs = append(dirs, expandTokens(e, dep))
		}
		// Legacy semantics: ancestors' DT_RPATH applies only when the
		// dependent itself has no DT_RUNPATH.
		if !r.NoChainWalk {
			for _, parent := range parents {
				for _, e := range parent.RPaths {
					dirs = append(dirs, expandTokens(e, parent))
				}
			}
		}
	}

	dirs = append(dirs, r.LibraryPath...)
	return dirs
}

// usable reports whether candidate exists, is readable, parses as ELF, and
// matches the dependent's class and machine.
func (r *Resolver) usable(candidate string, dep *elffile.File) bool {
	if unix.Access(candidate, unix.R_OK) != nil {
		return false
	}
	f, err := elffile.Open(candidate)
	if err != nil {
		return false
	}
	return f.CompatibleWith(dep)
}

// SplitLibraryPath splits an LD_LIBRARY_PATH value on the separators the
// linker accepts (colon and semicolon), dropping empty entries.
func SplitLibraryPath(value string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ':' || r == ';'
	}) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
