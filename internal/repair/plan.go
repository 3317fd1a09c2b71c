// Package repair plans and executes wheel repairs: grafting external
// libraries into the archive, rewriting dynamic entries to reach them, and
// re-tagging the result.
package repair

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/wheelwright/wheelwright/internal/graph"
	"github.com/wheelwright/wheelwright/internal/inspect"
	"github.com/wheelwright/wheelwright/internal/policy"
	"github.com/wheelwright/wheelwright/internal/wheel"
)

// Graft is one external library to copy into the wheel.
type Graft struct {
	Soname  string
	SrcPath string

	// NewName is the collision-free in-wheel filename,
	// {stem}-{hash8}.{suffix}.
	NewName string

	// ReplaceNeeded rewrites this copy's own DT_NEEDED entries that point
	// at other grafted libraries.
	ReplaceNeeded map[string]string

	// RunPath is the DT_RUNPATH to set on the copy, empty to leave alone.
	RunPath string

	// SetRunPath forces a RUNPATH write even when the source had none
	// (the copy depends on sibling grafts).
	SetRunPath bool
}

// BinaryPatch is the rewrite work for one root binary.
type BinaryPatch struct {
	// RelPath is the binary's wheel-relative path.
	RelPath string

	ReplaceNeeded map[string]string

	// RunPath is the new DT_RUNPATH, empty when nothing was grafted for
	// this binary.
	RunPath string
}

// Plan is a complete, executable repair.
type Plan struct {
	Target *policy.Policy

	// GraftDir is the wheel-relative vendored-library directory,
	// "{dist}.libs".
	GraftDir string

	// Grafts are ordered leaves-first so dependents are patched after
	// their dependencies.
	Grafts []Graft

	Binaries []BinaryPatch

	// Platforms is the final platform tag set for the wheel name and
	// metadata.
	Platforms []string

	// TagOnly marks plans with no grafting or patching work.
	TagOnly bool
}

// Options adjust planning.
type Options struct {
	// Exclude lists sonames never to graft.
	Exclude []string

	// OnlyPlat suppresses legacy alias tags in the output.
	OnlyPlat bool

	// LibSdir is the graft directory suffix, ".libs" by default.
	LibSdir string
}

// BuildPlan decides what a repair to the target policy must do.
func BuildPlan(a *inspect.Analysis, target *policy.Policy, opts Options) (*Plan, error) {
	plan := &Plan{Target: target}

	newPlats := []string{target.Name}
	if !opts.OnlyPlat {
		newPlats = append(newPlats, target.Aliases...)
	}
	plan.Platforms = wheel.AddPlatforms(a.Name.PlatTags, newPlats)

	if a.Pure {
		plan.TagOnly = true
		return plan, nil
	}

	// A policy the symbols violate cannot be reached by grafting.
	if r := a.Eval.Result(target); r != nil && len(r.Violations) > 0 {
		return nil, r.Violations[0]
	}

	if len(a.Graph.Conflicts) > 0 {
		c := a.Graph.Conflicts[0]
		return nil, &SonameConflictError{Soname: c.Soname, Paths: c.Paths}
	}

	excluded := make(map[string]bool, len(opts.Exclude))
	for _, s := range opts.Exclude {
		excluded[s] = true
	}

	// Graft set: externals the target does not whitelist, minus excludes.
	graftSet := make(map[string]bool)
	for soname := range a.Graph.Externals {
		if !target.Permissive() && !target.LibWhitelist[soname] && !excluded[soname] {
			graftSet[soname] = true
		}
	}

	// An unresolved soname is fatal once it would have to be grafted.
	for _, rerr := range a.Graph.Unresolved {
		if !target.Permissive() && !target.LibWhitelist[rerr.Soname] && !excluded[rerr.Soname] {
			return nil, fmt.Errorf("cannot repair: %w", rerr)
		}
	}

	if len(graftSet) == 0 {
		plan.TagOnly = true
		return plan, nil
	}

	libSdir := opts.LibSdir
	if libSdir == "" {
		libSdir = ".libs"
	}
	plan.GraftDir = a.Name.Distribution + libSdir

	newNames := make(map[string]string, len(graftSet))
	for soname := range graftSet {
		ext := a.Graph.Externals[soname]
		name, err := graftName(soname, ext.Path)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", ext.Path, err)
		}
		newNames[soname] = name
	}

	for _, soname := range topoOrder(a.Graph, graftSet) {
		ext := a.Graph.Externals[soname]
		g := Graft{
			Soname:        soname,
			SrcPath:       ext.Path,
			NewName:       newNames[soname],
			ReplaceNeeded: neededRewrites(ext.Deps, graftSet, newNames),
		}
		// The copy must reach sibling grafts, and any pre-existing
		// search path is meaningless at its new location.
		if len(g.ReplaceNeeded) > 0 || len(ext.File.RPaths) > 0 || len(ext.File.RunPaths) > 0 {
			g.RunPath = "$ORIGIN"
			g.SetRunPath = true
		}
		plan.Grafts = append(plan.Grafts, g)
	}

	for _, root := range a.Graph.Roots {
		rewrites := neededRewrites(root.Deps, graftSet, newNames)
		if len(rewrites) == 0 {
			continue
		}
		plan.Binaries = append(plan.Binaries, BinaryPatch{
			RelPath:       root.RelPath,
			ReplaceNeeded: rewrites,
			RunPath:       rootRunPath(root, plan.GraftDir),
		})
	}
	return plan, nil
}

// graftName derives the collision-free name {stem}-{hash8}.{suffix}: the
// stem and suffix come from the soname the dependents reference, the hash
// from the file's bytes. A soname already carrying its hash keeps its name.
func graftName(soname, srcPath string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	short := hex.EncodeToString(h.Sum(nil))[:8]

	stem, suffix, found := strings.Cut(path.Base(soname), ".")
	if !found {
		return soname + "-" + short, nil
	}
	if strings.HasSuffix(stem, "-"+short) {
		return soname, nil
	}
	return stem + "-" + short + "." + suffix, nil
}

// neededRewrites maps a dependent's DT_NEEDED entries onto graft names.
func neededRewrites(deps []graph.Dep, graftSet map[string]bool, newNames map[string]string) map[string]string {
	out := make(map[string]string)
	for _, d := range deps {
		if graftSet[d.Soname] {
			out[d.Soname] = newNames[d.Soname]
		}
	}
	return out
}

// rootRunPath computes the $ORIGIN-relative RUNPATH from a root binary to
// the graft directory, keeping pre-existing entries that still resolve
// inside the wheel and dropping everything absolute.
func rootRunPath(root *graph.Root, graftDir string) string {
	binDir := path.Dir(root.RelPath)
	entries := []string{originRelative(binDir, graftDir)}

	existing := root.File.RunPaths
	if len(existing) == 0 {
		existing = root.File.RPaths
	}
	for _, e := range existing {
		if kept, ok := preserveEntry(e, binDir); ok && !contains(entries, kept) {
			entries = append(entries, kept)
		}
	}
	return strings.Join(entries, ":")
}

// originRelative builds "$ORIGIN/<rel>" from the binary's directory to a
// wheel-relative target directory.
func originRelative(binDir, target string) string {
	if binDir == "." {
		return "$ORIGIN/" + target
	}
	up := strings.Count(binDir, "/") + 1
	return "$ORIGIN/" + strings.Repeat("../", up) + target
}

// preserveEntry keeps an existing search-path entry only when its $ORIGIN
// expansion stays inside the wheel. Build-machine absolute paths leak into
// RPATHs all the time; they never survive a repair.
func preserveEntry(entry, binDir string) (string, bool) {
	if !strings.HasPrefix(entry, "$ORIGIN") && !strings.HasPrefix(entry, "${ORIGIN}") {
		return "", false
	}
	expanded := strings.Replace(entry, "${ORIGIN}", binDir, 1)
	expanded = strings.Replace(expanded, "$ORIGIN", binDir, 1)
	cleaned := path.Clean(expanded)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return entry, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// topoOrder orders the graft set leaves-first: a library precedes every
// grafted dependent. Cycles fall back to discovery order.
func topoOrder(g *graph.Graph, graftSet map[string]bool) []string {
	sonames := make([]string, 0, len(graftSet))
	for s := range graftSet {
		sonames = append(sonames, s)
	}
	sort.Strings(sonames)

	var order []string
	state := make(map[string]int) // 0 white, 1 gray, 2 black
	var visit func(s string)
	visit = func(s string) {
		if state[s] != 0 {
			return
		}
		state[s] = 1
		for _, d := range g.Externals[s].Deps {
			if graftSet[d.Soname] && state[d.Soname] == 0 {
				visit(d.Soname)
			}
		}
		state[s] = 2
		order = append(order, s)
	}
	for _, s := range sonames {
		visit(s)
	}
	return order
}
