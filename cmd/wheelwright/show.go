package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/internal/inspect"
	"github.com/wheelwright/wheelwright/internal/log"
	"github.com/wheelwright/wheelwright/internal/show"
)

var showNoChainWalk bool

var showCmd = &cobra.Command{
	Use:   "show <wheel>",
	Short: "Audit a wheel for external shared library dependencies",
	Long: `Audit a wheel: list the external shared libraries its binaries depend
on, the versioned ABI symbols they reference, and the strictest platform
policy the wheel already satisfies.

Exits 1 when the wheel's current platform tags claim a policy it does
not satisfy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wheelPath := args[0]
		if err := requireFile(wheelPath); err != nil {
			return err
		}

		return withScratch(func(scratch string) error {
			a, err := inspect.AnalyzeWheel(wheelPath, scratch, inspect.Options{
				Resolver: newResolver(showNoChainWalk),
				Log:      log.Default(),
			})
			if err != nil {
				return err
			}

			show.Render(os.Stdout, a)

			if !a.Pure && overclaims(a) {
				os.Exit(ExitIncompatible)
			}
			return nil
		})
	},
}

// overclaims reports whether any current platform tag names a policy
// stricter than the one the wheel actually satisfies.
func overclaims(a *inspect.Analysis) bool {
	for _, tag := range a.Name.PlatTags {
		p := a.Table.ByName(tag)
		if p != nil && p.Priority > a.Eval.Overall.Priority {
			return true
		}
	}
	return false
}

func init() {
	showCmd.Flags().BoolVar(&showNoChainWalk, "no-chain-walk", false,
		"do not search ancestors' DT_RPATH for dependents without DT_RUNPATH")
	rootCmd.AddCommand(showCmd)
}
