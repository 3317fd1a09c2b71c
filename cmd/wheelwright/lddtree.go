package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/internal/elffile"
	"github.com/wheelwright/wheelwright/internal/graph"
	"github.com/wheelwright/wheelwright/internal/log"
)

var lddtreeNoChainWalk bool

// lddtreeEntry is one resolved dependency edge in the JSON dump.
type lddtreeEntry struct {
	Soname string `json:"soname"`
	Path   string `json:"path,omitempty"`
}

// lddtreeLib describes one transitively needed library.
type lddtreeLib struct {
	Path   string         `json:"path"`
	Needed []lddtreeEntry `json:"needed,omitempty"`
}

// lddtreeOutput is the JSON document lddtree prints.
type lddtreeOutput struct {
	Path        string                `json:"path"`
	Interpreter string                `json:"interp,omitempty"`
	Arch        string                `json:"arch"`
	Needed      []lddtreeEntry        `json:"needed,omitempty"`
	Libs        map[string]lddtreeLib `json:"libs"`
}

var lddtreeCmd = &cobra.Command{
	Use:   "lddtree <binary>",
	Short: "Dump one binary's resolved dependency tree as JSON",
	Long: `Resolve a single ELF binary's shared-library dependencies the way the
runtime linker would and print the transitive tree as JSON. This is the
same resolution 'show' and 'repair' use, exposed for debugging.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		f, err := elffile.Open(path)
		if err != nil {
			return err
		}

		g, err := graph.Build(graph.Builder{
			Resolver: newResolver(lddtreeNoChainWalk),
			Log:      log.Default(),
		}, []*graph.Root{{File: f, RelPath: filepath.Base(path)}})
		if err != nil {
			return err
		}

		out := lddtreeOutput{
			Path:        path,
			Interpreter: f.Interpreter,
			Arch:        f.Arch,
			Libs:        make(map[string]lddtreeLib),
		}
		out.Needed = toEntries(g.Roots[0].Deps)
		for soname, ext := range g.Externals {
			out.Libs[soname] = lddtreeLib{Path: ext.Path, Needed: toEntries(ext.Deps)}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func toEntries(deps []graph.Dep) []lddtreeEntry {
	var out []lddtreeEntry
	for _, d := range deps {
		out = append(out, lddtreeEntry{Soname: d.Soname, Path: d.Path})
	}
	return out
}

func init() {
	lddtreeCmd.Flags().BoolVar(&lddtreeNoChainWalk, "no-chain-walk", false,
		"do not search ancestors' DT_RPATH for dependents without DT_RUNPATH")
	rootCmd.AddCommand(lddtreeCmd)
}
