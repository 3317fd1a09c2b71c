package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/internal/config"
	"github.com/wheelwright/wheelwright/internal/inspect"
	"github.com/wheelwright/wheelwright/internal/log"
	"github.com/wheelwright/wheelwright/internal/policy"
	"github.com/wheelwright/wheelwright/internal/repair"
)

var (
	repairPlat        string
	repairWheelDir    string
	repairLibSdir     string
	repairExclude     []string
	repairStrip       bool
	repairOnlyPlat    bool
	repairNoChainWalk bool
)

var repairCmd = &cobra.Command{
	Use:   "repair <wheel>",
	Short: "Vendor external shared libraries into a wheel",
	Long: `Repair a wheel so it satisfies a target platform policy: copy
non-whitelisted dependent libraries into a {dist}.libs directory inside
the archive under collision-free names, rewrite each binary's DT_NEEDED
and DT_RUNPATH to load the vendored copies, and re-tag the result.

The input wheel is never modified; the repaired wheel is written to the
output directory. A wheel with no native binaries is left as-is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wheelPath := args[0]
		if err := requireFile(wheelPath); err != nil {
			return err
		}

		userCfg, err := config.LoadUserConfig()
		if err != nil {
			return err
		}
		if repairWheelDir == "" {
			repairWheelDir = userCfg.WheelDir
		}
		if repairLibSdir == "" {
			repairLibSdir = userCfg.LibSdir
		}
		exclude := append(userCfg.Exclude, repairExclude...)

		return withScratch(func(scratch string) error {
			logger := log.Default()
			a, err := inspect.AnalyzeWheel(wheelPath, scratch, inspect.Options{
				Resolver: newResolver(repairNoChainWalk),
				Log:      logger,
			})
			if err != nil {
				return err
			}

			if a.Pure {
				fmt.Printf("%s has no platform-specific binaries; nothing to repair\n", wheelPath)
				return nil
			}
			if len(a.Skipped) > 0 {
				// A payload member we cannot parse cannot be patched.
				fmt.Fprintf(os.Stderr, "Error: %v\n", a.Skipped[0])
				os.Exit(ExitIncompatible)
			}

			target := resolveTarget(a, userCfg)
			if target == nil {
				fmt.Fprintf(os.Stderr, "Error: unknown policy %q for architecture %s\n", repairPlat, a.Graph.Arch)
				os.Exit(ExitUsage)
			}

			plan, err := repair.BuildPlan(a, target, repair.Options{
				Exclude:  exclude,
				OnlyPlat: repairOnlyPlat,
				LibSdir:  repairLibSdir,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(ExitIncompatible)
			}

			patcher := &repair.Patchelf{Bin: config.PatchelfPath(), Log: logger}
			if !plan.TagOnly {
				if err := patcher.Verify(); err != nil {
					return err
				}
			}

			executor := &repair.Executor{
				Patcher: patcher,
				Strip:   repairStrip,
				Epoch:   config.SourceDateEpoch(),
				Log:     logger,
			}
			outPath, err := executor.Execute(a, plan, repairWheelDir)
			if err != nil {
				var perr *repair.PatcherError
				var serr *repair.StripError
				if errors.As(err, &perr) || errors.As(err, &serr) {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(ExitIncompatible)
				}
				return err
			}

			fmt.Printf("Fixed-up wheel written to %s\n", outPath)
			return nil
		})
	},
}

// resolveTarget picks the target policy: --plat, else AUDITWHEEL_PLAT or
// the config file, else the strictest policy for the wheel's architecture.
func resolveTarget(a *inspect.Analysis, userCfg *config.UserConfig) *policy.Policy {
	name := repairPlat
	if name == "" {
		name = config.DefaultPlat(userCfg)
	}
	if name == "" {
		return a.Table.Highest()
	}
	return a.Table.ByName(name)
}

func init() {
	repairCmd.Flags().StringVar(&repairPlat, "plat", "", "target platform policy (default: strictest for the architecture)")
	repairCmd.Flags().StringVarP(&repairWheelDir, "wheel-dir", "w", "", "directory for repaired wheels (default: wheelhouse)")
	repairCmd.Flags().StringVarP(&repairLibSdir, "lib-sdir", "L", "", "suffix for the vendored library directory (default: .libs)")
	repairCmd.Flags().StringSliceVar(&repairExclude, "exclude", nil, "sonames never to graft (repeatable)")
	repairCmd.Flags().BoolVar(&repairStrip, "strip", false, "strip debug symbols from grafted libraries")
	repairCmd.Flags().BoolVar(&repairOnlyPlat, "only-plat", false, "tag with the target policy only, no legacy aliases")
	repairCmd.Flags().BoolVar(&repairNoChainWalk, "no-chain-walk", false,
		"do not search ancestors' DT_RPATH for dependents without DT_RUNPATH")
	rootCmd.AddCommand(repairCmd)
}
