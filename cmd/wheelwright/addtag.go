package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/internal/config"
	"github.com/wheelwright/wheelwright/internal/inspect"
	"github.com/wheelwright/wheelwright/internal/log"
	"github.com/wheelwright/wheelwright/internal/repair"
	"github.com/wheelwright/wheelwright/internal/wheel"
)

var addtagWheelDir string

var addtagCmd = &cobra.Command{
	Use:   "addtag <wheel>",
	Short: "Add the platform tags a wheel already earns",
	Long: `Audit a wheel and, when its filename under-claims the policy its
binaries already satisfy, write a copy carrying the full tag set (the
earned policy plus its legacy aliases). No binary is modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wheelPath := args[0]
		if err := requireFile(wheelPath); err != nil {
			return err
		}

		return withScratch(func(scratch string) error {
			a, err := inspect.AnalyzeWheel(wheelPath, scratch, inspect.Options{
				Resolver: newResolver(false),
				Log:      log.Default(),
			})
			if err != nil {
				return err
			}
			if a.Pure {
				fmt.Printf("%s has no platform-specific binaries; no tags to add\n", wheelPath)
				return nil
			}

			earned := a.Eval.Overall
			plats := wheel.AddPlatforms(a.Name.PlatTags, append([]string{earned.Name}, earned.Aliases...))
			if equalTags(plats, a.Name.PlatTags) {
				fmt.Printf("%s is already fully tagged (%s)\n", wheelPath, earned.Name)
				return nil
			}

			executor := &repair.Executor{Epoch: config.SourceDateEpoch(), Log: log.Default()}
			outPath, err := executor.Execute(a, &repair.Plan{TagOnly: true, Platforms: plats}, addtagWheelDir)
			if err != nil {
				return err
			}
			fmt.Printf("Re-tagged wheel written to %s\n", outPath)
			return nil
		})
	},
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, t := range a {
		seen[t] = true
	}
	for _, t := range b {
		if !seen[t] {
			return false
		}
	}
	return true
}

func init() {
	addtagCmd.Flags().StringVarP(&addtagWheelDir, "wheel-dir", "w", "wheelhouse", "directory for re-tagged wheels")
	rootCmd.AddCommand(addtagCmd)
}
