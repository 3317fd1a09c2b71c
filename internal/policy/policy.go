// Package policy loads the platform policy table and scores dependency
// graphs against it.
package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wheelwright/wheelwright/internal/elffile"
)

//go:embed policies.json
var embeddedPolicies []byte

// policyElement is the raw JSON shape of one policy, before arch
// specialization. SymbolVersions is keyed arch → group → max version.
type policyElement struct {
	Name           string                       `json:"name" validate:"required"`
	Aliases        []string                     `json:"aliases"`
	Priority       int                          `json:"priority" validate:"gte=0"`
	SymbolVersions map[string]map[string]string `json:"symbol_versions"`
	LibWhitelist   []string                     `json:"lib_whitelist" validate:"dive,required"`
	Blacklist      map[string][]string          `json:"blacklist"`
}

// Policy is one platform policy specialized for a single architecture.
// Higher priority means stricter. The priority-zero policy ("linux")
// admits everything.
type Policy struct {
	// Name carries the architecture suffix, e.g. "manylinux_2_17_x86_64".
	Name string

	// Aliases are the legacy tag names, also arch-suffixed.
	Aliases []string

	Priority int

	// SymbolVersions maps a version group to the maximum allowed version.
	SymbolVersions map[string]string

	// LibWhitelist is the set of sonames the policy's platforms provide.
	LibWhitelist map[string]bool

	// Blacklist maps a whitelisted soname to symbols that must not be
	// imported from it.
	Blacklist map[string]map[string]bool
}

// Permissive reports whether this is the admit-everything base policy.
func (p *Policy) Permissive() bool {
	return p.Priority == 0
}

// Table is the ordered policy set for one architecture and libc flavor.
type Table struct {
	Arch     string
	policies []*Policy // priority descending
}

// Load parses and validates the embedded policy table, specialized for the
// given architecture and libc flavor.
func Load(arch string, flavor elffile.LibcFlavor) (*Table, error) {
	return LoadFrom(embeddedPolicies, arch, flavor)
}

// LoadFrom parses a policy JSON document. Policies whose symbol_versions
// lack the architecture are not eligible and are dropped (the permissive
// "linux" policy always applies). The flavor selects between the
// manylinux and musllinux families.
func LoadFrom(data []byte, arch string, flavor elffile.LibcFlavor) (*Table, error) {
	var elements []policyElement
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("parse policy table: %w", err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("policy table is empty")
	}

	validate := validator.New()
	table := &Table{Arch: arch}
	for i := range elements {
		el := &elements[i]
		if err := validate.Struct(el); err != nil {
			return nil, fmt.Errorf("policy %q: %w", el.Name, err)
		}
		if err := checkVersions(el); err != nil {
			return nil, err
		}

		p, ok := specialize(el, arch, flavor)
		if !ok {
			continue
		}
		table.policies = append(table.policies, p)
	}

	if err := table.check(); err != nil {
		return nil, err
	}
	sort.SliceStable(table.policies, func(i, j int) bool {
		return table.policies[i].Priority > table.policies[j].Priority
	})
	return table, nil
}

// checkVersions rejects policies whose maximum versions are not dotted
// integer strings.
func checkVersions(el *policyElement) error {
	for arch, groups := range el.SymbolVersions {
		for group, version := range groups {
			if !dottedRE.MatchString(version) {
				return fmt.Errorf("policy %q: %s/%s: bad version %q",
					el.Name, arch, group, version)
			}
		}
	}
	return nil
}

// specialize flattens one raw element for a single architecture and flavor.
func specialize(el *policyElement, arch string, flavor elffile.LibcFlavor) (*Policy, bool) {
	if el.Priority == 0 {
		// The permissive policy applies everywhere.
		return &Policy{
			Name:           el.Name + "_" + arch,
			Priority:       0,
			SymbolVersions: map[string]string{},
			LibWhitelist:   map[string]bool{},
			Blacklist:      map[string]map[string]bool{},
		}, true
	}

	if !familyMatches(el.Name, flavor) {
		return nil, false
	}
	groups, ok := el.SymbolVersions[arch]
	if !ok {
		return nil, false
	}

	p := &Policy{
		Name:           el.Name + "_" + arch,
		Priority:       el.Priority,
		SymbolVersions: make(map[string]string, len(groups)),
		LibWhitelist:   make(map[string]bool, len(el.LibWhitelist)),
		Blacklist:      make(map[string]map[string]bool, len(el.Blacklist)),
	}
	for group, version := range groups {
		p.SymbolVersions[group] = version
	}
	for _, lib := range el.LibWhitelist {
		p.LibWhitelist[lib] = true
	}
	for lib, syms := range el.Blacklist {
		set := make(map[string]bool, len(syms))
		for _, s := range syms {
			set[s] = true
		}
		p.Blacklist[lib] = set
	}
	for _, alias := range el.Aliases {
		p.Aliases = append(p.Aliases, alias+"_"+arch)
	}
	return p, true
}

// familyMatches selects the policy family for the libc flavor. An unknown
// flavor (no libc linked at all) is scored against the glibc family.
func familyMatches(name string, flavor elffile.LibcFlavor) bool {
	isMusl := strings.HasPrefix(name, "musllinux")
	return (flavor == elffile.LibcMusl) == isMusl
}

// check enforces table-wide integrity: unique names and priorities, a
// permissive base policy, and whitelists that only grow as priority drops.
func (t *Table) check() error {
	names := make(map[string]bool)
	prios := make(map[int]bool)
	hasBase := false
	for _, p := range t.policies {
		if names[p.Name] {
			return fmt.Errorf("duplicate policy name %q", p.Name)
		}
		names[p.Name] = true
		if prios[p.Priority] {
			return fmt.Errorf("duplicate policy priority %d", p.Priority)
		}
		prios[p.Priority] = true
		if p.Permissive() {
			hasBase = true
		}
	}
	if !hasBase {
		return fmt.Errorf("policy table has no permissive base policy")
	}

	// A stricter policy must not whitelist a library the laxer ones lack.
	ordered := make([]*Policy, len(t.policies))
	copy(ordered, t.policies)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })
	seen := make(map[string]bool)
	for _, p := range ordered {
		if p.Permissive() {
			continue
		}
		for lib := range seen {
			if !p.LibWhitelist[lib] {
				return fmt.Errorf("policy %q drops whitelisted library %q present in a stricter policy", p.Name, lib)
			}
		}
		for lib := range p.LibWhitelist {
			seen[lib] = true
		}
	}
	return nil
}

// Policies returns the eligible policies, priority descending.
func (t *Table) Policies() []*Policy {
	return t.policies
}

// ByName finds a policy by its arch-suffixed name or alias, accepting the
// bare family name (e.g. "manylinux_2_17") as shorthand.
func (t *Table) ByName(name string) *Policy {
	for _, p := range t.policies {
		if p.Name == name || p.Name == name+"_"+t.Arch {
			return p
		}
		for _, alias := range p.Aliases {
			if alias == name || alias == name+"_"+t.Arch {
				return p
			}
		}
	}
	return nil
}

// ByPriority finds the policy with the exact priority, or nil.
func (t *Table) ByPriority(priority int) *Policy {
	for _, p := range t.policies {
		if p.Priority == priority {
			return p
		}
	}
	return nil
}

// Highest returns the strictest eligible policy.
func (t *Table) Highest() *Policy {
	if len(t.policies) == 0 {
		return nil
	}
	return t.policies[0]
}

// Lowest returns the permissive base policy.
func (t *Table) Lowest() *Policy {
	if len(t.policies) == 0 {
		return nil
	}
	return t.policies[len(t.policies)-1]
}
