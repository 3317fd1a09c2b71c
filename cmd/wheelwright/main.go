// Command wheelwright audits and repairs Linux wheels containing
// pre-compiled native extensions so they conform to a platform policy.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/internal/config"
	"github.com/wheelwright/wheelwright/internal/ldso"
	"github.com/wheelwright/wheelwright/internal/log"
)

// Version is the current version of wheelwright
var Version = "0.4.1"

var (
	flagVerbose bool
	flagDebug   bool
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "wheelwright",
	Short: "Audit and repair Linux wheels for platform policy conformance",
	Long: `wheelwright inspects the ELF binaries inside a wheel, resolves their
external shared-library dependencies the way the runtime linker would,
and scores the result against the manylinux/musllinux platform policies.

'show' reports the strictest policy a wheel already satisfies. 'repair'
vendors non-whitelisted libraries into the wheel, rewrites the binaries
to load the vendored copies, and re-tags the archive.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		switch {
		case flagDebug:
			level = slog.LevelDebug
		case flagVerbose:
			level = slog.LevelInfo
		case flagQuiet:
			level = slog.LevelError
		}
		log.SetDefault(log.NewText(os.Stderr, level))
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "report per-binary processing")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "trace search paths and patcher invocations")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "errors only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitUsage)
	}
}

// newResolver assembles the library resolver for one invocation: the real
// ld.so cache when readable, and LD_LIBRARY_PATH because the CLI is the one
// caller that opts into the ambient environment.
func newResolver(noChainWalk bool) *ldso.Resolver {
	logger := log.Default()

	cache, err := ldso.LoadCache("")
	if err != nil {
		logger.Debug("no usable ld.so cache", "error", err)
		cache = nil
	}
	return &ldso.Resolver{
		Cache:       cache,
		LibraryPath: ldso.SplitLibraryPath(os.Getenv(config.EnvLDLibraryPath)),
		NoChainWalk: noChainWalk,
		Log:         logger,
	}
}

// withScratch runs fn with an exclusively-owned scratch directory that is
// removed on exit, including on an interrupt: the input archive is never
// touched, and no partial output survives.
func withScratch(fn func(scratchDir string) error) error {
	scratch, err := os.MkdirTemp("", "wheelwright-*")
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		_ = os.RemoveAll(scratch)
		os.Exit(130)
	}()
	defer func() {
		signal.Stop(sigs)
		_ = os.RemoveAll(scratch)
	}()

	return fn(scratch)
}

// requireFile fails with a usage error when the wheel path is not a file.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a wheel", path)
	}
	return nil
}
