package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wheelwright/wheelwright/internal/graph"
)

// VersionViolation reports a symbol version newer than a policy's maximum.
type VersionViolation struct {
	Policy string
	Group  string
	Actual string
	Max    string
}

func (e *VersionViolation) Error() string {
	return fmt.Sprintf("PolicyViolation(%q, %q, %q): %s forbids %s_%s (max %s_%s)",
		e.Group, e.Actual, e.Max, e.Policy, e.Group, e.Actual, e.Group, e.Max)
}

// BlacklistViolation reports an imported symbol a policy blacklists.
type BlacklistViolation struct {
	Policy string
	Lib    string
	Symbol string
}

func (e *BlacklistViolation) Error() string {
	return fmt.Sprintf("BlacklistedSymbol(%q, %q): %s forbids importing it from %s",
		e.Lib, e.Symbol, e.Policy, e.Lib)
}

// Result is one policy's verdict on a dependency graph.
type Result struct {
	Policy *Policy

	// GraftCandidates lists external sonames the policy does not
	// whitelist. They do not disqualify the policy; repair will graft them.
	GraftCandidates []string

	// Violations hold the symbol-version and blacklist failures that do
	// disqualify the policy.
	Violations []error
}

// SymbolCompatible reports whether the graph's symbol imports fit the policy.
func (r *Result) SymbolCompatible() bool {
	return len(r.Violations) == 0
}

// WhitelistCompatible reports whether every external library is provided by
// the policy's platforms.
func (r *Result) WhitelistCompatible() bool {
	return len(r.GraftCandidates) == 0
}

// Evaluation scores a graph against every eligible policy.
type Evaluation struct {
	// Results are ordered by priority descending, one per policy.
	Results []*Result

	// SymbolPolicy is the strictest policy the imported symbol versions
	// satisfy. At least the permissive base policy always qualifies.
	SymbolPolicy *Policy

	// WhitelistPolicy is the strictest policy with zero graft candidates.
	WhitelistPolicy *Policy

	// Overall is the lower-priority of the two: the tag the archive
	// already earns without repair.
	Overall *Policy
}

// Score evaluates the dependency graph against each policy in the table.
func (t *Table) Score(g *graph.Graph) *Evaluation {
	eval := &Evaluation{}
	for _, p := range t.policies {
		r := t.scoreOne(p, g)
		eval.Results = append(eval.Results, r)
		if r.SymbolCompatible() && (eval.SymbolPolicy == nil || p.Priority > eval.SymbolPolicy.Priority) {
			eval.SymbolPolicy = p
		}
		if r.WhitelistCompatible() && (eval.WhitelistPolicy == nil || p.Priority > eval.WhitelistPolicy.Priority) {
			eval.WhitelistPolicy = p
		}
	}

	eval.Overall = eval.SymbolPolicy
	if eval.WhitelistPolicy != nil && eval.WhitelistPolicy.Priority < eval.Overall.Priority {
		eval.Overall = eval.WhitelistPolicy
	}
	return eval
}

// Result returns the scoring result for the named policy, or nil.
func (e *Evaluation) Result(p *Policy) *Result {
	for _, r := range e.Results {
		if r.Policy == p {
			return r
		}
	}
	return nil
}

// scoreOne applies §whitelist, §symbol-version and §blacklist checks for a
// single policy.
func (t *Table) scoreOne(p *Policy, g *graph.Graph) *Result {
	r := &Result{Policy: p}
	if p.Permissive() {
		return r
	}

	for _, soname := range g.ExternalSonames() {
		ext := g.Externals[soname]
		if !p.LibWhitelist[soname] {
			r.GraftCandidates = append(r.GraftCandidates, soname)
			continue
		}

		tokens := make([]string, 0, len(ext.Symbols))
		for token := range ext.Symbols {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			group, version, found := strings.Cut(token, "_")
			if !found {
				continue
			}
			max, constrained := p.SymbolVersions[group]
			if !constrained {
				continue
			}
			// Unparsable versions (GLIBC_PRIVATE) are never within a
			// numeric maximum.
			if _, ok := ParseToken(token); !ok || CompareVersions(version, max) > 0 {
				r.Violations = append(r.Violations, &VersionViolation{
					Policy: p.Name,
					Group:  group,
					Actual: version,
					Max:    max,
				})
			}
		}

		blacklist := p.Blacklist[soname]
		if len(blacklist) == 0 {
			continue
		}
		names := make([]string, 0, len(ext.Names))
		for name := range ext.Names {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if blacklist[name] {
				r.Violations = append(r.Violations, &BlacklistViolation{
					Policy: p.Name,
					Lib:    soname,
					Symbol: name,
				})
			}
		}
	}
	return r
}
