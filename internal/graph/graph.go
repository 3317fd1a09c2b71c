// Package graph builds the transitive dependency graph over a wheel's
// binaries and aggregates the versioned symbols each external library is
// asked for.
package graph

import (
	"fmt"
	"sort"

	"github.com/wheelwright/wheelwright/internal/elffile"
	"github.com/wheelwright/wheelwright/internal/ldso"
	"github.com/wheelwright/wheelwright/internal/log"
)

// HeterogeneousArchiveError reports roots with incompatible architectures.
type HeterogeneousArchiveError struct {
	Archs []string
}

func (e *HeterogeneousArchiveError) Error() string {
	return fmt.Sprintf("archive mixes binaries for architectures %v", e.Archs)
}

// Resolver locates a needed soname for a dependent binary.
// *ldso.Resolver satisfies this; tests substitute fakes.
type Resolver interface {
	Resolve(dep *elffile.File, soname string, parents []*elffile.File) (string, error)
}

// Loader parses one binary. Defaults to elffile.Open.
type Loader func(path string) (*elffile.File, error)

// Dep is one outgoing edge: the soname a dependent used, and where it led.
type Dep struct {
	// Soname is the DT_NEEDED value as stored in the dependent.
	Soname string

	// Path is the resolved absolute path on the host. Empty when the
	// target is another wheel member or the soname did not resolve.
	Path string

	// InWheel marks edges satisfied by another binary inside the archive.
	InWheel bool
}

// Root is a binary found in the archive payload. Roots are never grafted.
type Root struct {
	File *elffile.File

	// RelPath is the binary's path relative to the wheel root.
	RelPath string

	Deps []Dep
}

// External is a resolved host library some wheel binary (transitively)
// depends on.
type External struct {
	// Soname is the node identity: DT_SONAME, else the file name.
	Soname string

	// Path is the single resolved absolute path for this soname.
	Path string

	File *elffile.File

	// Symbols is the union of versioned symbol tokens the importers
	// request with this library as the defining object. Never the
	// library's total exported set.
	Symbols map[string]bool

	// Names is the union of symbol names the direct dependents import
	// from this library: versioned names attributed to it, plus each
	// dependent's unversioned undefined names (their defining object is
	// unknowable). Blacklist checks match against this set.
	Names map[string]bool

	// Importers is the set of root RelPaths that (transitively) reach
	// this library.
	Importers map[string]bool

	Deps []Dep
}

// Conflict records a soname that resolved to two different paths from two
// search contexts. Planning refuses to graft while any exist.
type Conflict struct {
	Soname string
	Paths  []string
}

// Graph is the dependency graph for one archive.
type Graph struct {
	// Arch is the roots' common policy architecture.
	Arch string

	Roots []*Root

	// Externals is keyed by soname.
	Externals map[string]*External

	// Unresolved lists sonames that no search context could locate.
	Unresolved []*ldso.ResolveError

	Conflicts []*Conflict
}

// Builder wires the collaborators needed to expand a graph.
type Builder struct {
	Resolver Resolver
	Load     Loader
	Log      log.Logger
}

// node colors for the fixed-point expansion
type color int

const (
	gray  color = iota // discovered, expansion pending
	black              // expanded
)

// Build expands the dependency graph from the archive's binaries to a fixed
// point. Cycles among external libraries are permitted; unresolved sonames
// are recorded, not fatal.
func Build(b Builder, roots []*Root) (*Graph, error) {
	if b.Load == nil {
		b.Load = elffile.Open
	}
	logger := b.Log
	if logger == nil {
		logger = log.Default()
	}

	if err := checkArch(roots); err != nil {
		return nil, err
	}

	g := &Graph{
		Roots:     roots,
		Externals: make(map[string]*External),
	}
	if len(roots) > 0 {
		g.Arch = roots[0].File.Arch
	}

	// In-wheel members resolve to each other before any host search.
	inWheel := make(map[string]bool, len(roots))
	for _, r := range roots {
		inWheel[r.File.EffectiveSoname()] = true
	}

	type workItem struct {
		ext     *External
		parents []*elffile.File
	}
	var queue []workItem
	marks := make(map[string]color)

	// addDeps resolves one dependent's DT_NEEDED list and returns its edges.
	addDeps := func(dep *elffile.File, parents []*elffile.File) []Dep {
		deps := make([]Dep, 0, len(dep.Needed))
		for _, soname := range dep.Needed {
			if inWheel[soname] {
				deps = append(deps, Dep{Soname: soname, InWheel: true})
				continue
			}

			path, err := b.Resolver.Resolve(dep, soname, parents)
			if err != nil {
				if rerr, ok := err.(*ldso.ResolveError); ok {
					logger.Warn("unresolved library", "soname", soname, "needed_by", dep.Path)
					g.Unresolved = append(g.Unresolved, rerr)
					deps = append(deps, Dep{Soname: soname})
					continue
				}
				deps = append(deps, Dep{Soname: soname})
				continue
			}

			ext := g.Externals[soname]
			if ext == nil {
				file, err := b.Load(path)
				if err != nil {
					logger.Warn("cannot parse resolved library", "path", path, "error", err)
					deps = append(deps, Dep{Soname: soname})
					continue
				}
				ext = &External{
					Soname:    soname,
					Path:      path,
					File:      file,
					Symbols:   make(map[string]bool),
					Names:     make(map[string]bool),
					Importers: make(map[string]bool),
				}
				g.Externals[soname] = ext
				marks[soname] = gray
				queue = append(queue, workItem{ext: ext, parents: append([]*elffile.File{dep}, parents...)})
			} else if ext.Path != path {
				g.addConflict(soname, ext.Path, path)
			}

			for token := range dep.VersionedSymbols[soname] {
				ext.Symbols[token] = true
			}
			for name := range dep.VersionedNames[soname] {
				ext.Names[name] = true
			}
			for name := range dep.UndefinedSymbols {
				ext.Names[name] = true
			}
			deps = append(deps, Dep{Soname: soname, Path: path})
		}
		return deps
	}

	for _, r := range roots {
		r.Deps = addDeps(r.File, nil)
	}

	// Fixed point: expand discovered externals until none remain gray.
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if marks[item.ext.Soname] == black {
			continue
		}
		marks[item.ext.Soname] = black
		item.ext.Deps = addDeps(item.ext.File, item.parents)
	}

	g.markImporters()
	return g, nil
}

// checkArch rejects archives whose roots target different architectures.
func checkArch(roots []*Root) error {
	seen := make(map[string]bool)
	for _, r := range roots {
		seen[r.File.Arch] = true
	}
	if len(seen) > 1 {
		archs := make([]string, 0, len(seen))
		for a := range seen {
			archs = append(archs, a)
		}
		sort.Strings(archs)
		return &HeterogeneousArchiveError{Archs: archs}
	}
	return nil
}

func (g *Graph) addConflict(soname, have, got string) {
	for _, c := range g.Conflicts {
		if c.Soname == soname {
			for _, p := range c.Paths {
				if p == got {
					return
				}
			}
			c.Paths = append(c.Paths, got)
			return
		}
	}
	g.Conflicts = append(g.Conflicts, &Conflict{Soname: soname, Paths: []string{have, got}})
}

// markImporters records, on every external node, which roots reach it.
func (g *Graph) markImporters() {
	for _, r := range g.Roots {
		seen := make(map[string]bool)
		var walk func(deps []Dep)
		walk = func(deps []Dep) {
			for _, d := range deps {
				if d.InWheel || d.Path == "" {
					continue
				}
				ext := g.Externals[d.Soname]
				if ext == nil || seen[d.Soname] {
					continue
				}
				seen[d.Soname] = true
				ext.Importers[r.RelPath] = true
				walk(ext.Deps)
			}
		}
		walk(r.Deps)
	}
}

// ExternalSonames returns the external node names in sorted order.
func (g *Graph) ExternalSonames() []string {
	names := make([]string, 0, len(g.Externals))
	for name := range g.Externals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SymbolTokens returns the union of all versioned symbol tokens requested
// from external libraries, for policy scoring.
func (g *Graph) SymbolTokens() []string {
	set := make(map[string]bool)
	for _, ext := range g.Externals {
		for token := range ext.Symbols {
			set[token] = true
		}
	}
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
