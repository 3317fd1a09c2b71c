// Package show renders an inspection record as the human-readable report
// the CLI prints. Programmatic callers read the Analysis directly.
package show

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wheelwright/wheelwright/internal/inspect"
	"github.com/wheelwright/wheelwright/internal/policy"
)

// Render writes the audit report for one analyzed wheel.
func Render(w io.Writer, a *inspect.Analysis) {
	fmt.Fprintf(w, "%s\n\n", a.Name.String())

	if a.Pure {
		fmt.Fprintf(w, "This wheel contains no platform-specific binaries (NonPlatformWheel).\n")
		fmt.Fprintf(w, "Nothing to audit; the wheel is consistent with its %q tags.\n",
			strings.Join(a.Name.PlatTags, "."))
		return
	}

	overall := a.Eval.Overall
	fmt.Fprintf(w, "The wheel is consistent with the platform tag %q.\n", overall.Name)
	fmt.Fprintf(w, "Architecture: %s; libc: %s", a.Graph.Arch, a.Libc.Flavor)
	if a.Libc.Version != nil {
		fmt.Fprintf(w, " %s", a.Libc.Version)
	}
	fmt.Fprintf(w, "\n\n")

	renderSymbols(w, a)
	renderLibraries(w, a, a.Eval.SymbolPolicy)
	renderBlockers(w, a, overall)
}

// renderSymbols lists the versioned symbols requested per library.
func renderSymbols(w io.Writer, a *inspect.Analysis) {
	fmt.Fprintf(w, "Symbol versions\n---------------\n")
	any := false
	for _, soname := range a.Graph.ExternalSonames() {
		ext := a.Graph.Externals[soname]
		if len(ext.Symbols) == 0 {
			continue
		}
		any = true
		max := policy.MaxVersionPerGroup(keys(ext.Symbols))
		groups := make([]string, 0, len(max))
		for g, v := range max {
			groups = append(groups, g+"_"+v)
		}
		sort.Strings(groups)
		fmt.Fprintf(w, "  %s: %s\n", soname, strings.Join(groups, ", "))
	}
	if !any {
		fmt.Fprintf(w, "  no external versioned symbols referenced\n")
	}
	fmt.Fprintf(w, "\n")
}

// renderLibraries groups external dependencies by whether the platforms of
// target (the strictest symbol-compatible policy, which a repair can reach)
// provide them.
func renderLibraries(w io.Writer, a *inspect.Analysis, target *policy.Policy) {
	fmt.Fprintf(w, "External libraries\n------------------\n")

	var provided, needsGraft []string
	for _, soname := range a.Graph.ExternalSonames() {
		ext := a.Graph.Externals[soname]
		line := fmt.Sprintf("  %s => %s", soname, ext.Path)
		if target.Permissive() || target.LibWhitelist[soname] {
			provided = append(provided, line)
		} else {
			needsGraft = append(needsGraft, line)
		}
	}
	if len(provided) > 0 {
		fmt.Fprintf(w, "provided by %s platforms:\n%s\n", target.Name, strings.Join(provided, "\n"))
	}
	if len(needsGraft) > 0 {
		fmt.Fprintf(w, "requiring a graft:\n%s\n", strings.Join(needsGraft, "\n"))
	}
	for _, u := range a.Graph.Unresolved {
		fmt.Fprintf(w, "unresolved: %s (needed by %s)\n", u.Soname, u.Dependent)
	}
	if len(provided)+len(needsGraft)+len(a.Graph.Unresolved) == 0 {
		fmt.Fprintf(w, "  none\n")
	}
	fmt.Fprintf(w, "\n")
}

// renderBlockers explains, for each policy stricter than the verdict, what
// rules it out.
func renderBlockers(w io.Writer, a *inspect.Analysis, overall *policy.Policy) {
	var lines []string
	for _, r := range a.Eval.Results {
		if r.Policy.Priority <= overall.Priority {
			continue
		}
		var reasons []string
		if len(r.GraftCandidates) > 0 {
			reasons = append(reasons, "needs "+strings.Join(r.GraftCandidates, ", "))
		}
		for _, v := range r.Violations {
			reasons = append(reasons, v.Error())
		}
		if len(reasons) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", r.Policy.Name, strings.Join(reasons, "; ")))
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "Stricter tags not satisfied\n---------------------------\n%s\n", strings.Join(lines, "\n"))
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
