// Package inspect ties the wheel adapter, ELF inspector, resolver, graph
// and policy engine together: it turns a wheel path into a scored analysis
// that show renders and repair plans from.
package inspect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wheelwright/wheelwright/internal/elffile"
	"github.com/wheelwright/wheelwright/internal/graph"
	"github.com/wheelwright/wheelwright/internal/ldso"
	"github.com/wheelwright/wheelwright/internal/log"
	"github.com/wheelwright/wheelwright/internal/policy"
	"github.com/wheelwright/wheelwright/internal/wheel"
)

// ErrNonPlatformWheel marks a wheel with no ELF payload: nothing to audit,
// nothing to repair.
var ErrNonPlatformWheel = errors.New("wheel contains no platform-specific binaries")

// Options configures an analysis run.
type Options struct {
	// Resolver locates external libraries. Required.
	Resolver *ldso.Resolver

	// PolicyTable overrides the embedded table (tests).
	PolicyTable *policy.Table

	Log log.Logger
}

// Analysis is the inspection record for one wheel.
type Analysis struct {
	WheelPath  string
	Name       *wheel.Name
	ScratchDir string

	// DistInfo is the .dist-info directory name inside the wheel.
	DistInfo string

	// Pure is set when the wheel has no ELF members; Graph, Table and
	// Eval are nil in that case.
	Pure bool

	// Skipped lists payload files that look binary but failed to parse.
	Skipped []error

	Graph *graph.Graph
	Table *policy.Table
	Eval  *policy.Evaluation

	// Libc is the host libc probe result, valid for non-pure wheels.
	Libc ldso.LibcInfo
}

// AnalyzeWheel extracts the wheel into scratchDir and scores its
// dependency graph against the policy table.
//
// The caller owns scratchDir and removes it when done, success or failure.
func AnalyzeWheel(wheelPath, scratchDir string, opts Options) (*Analysis, error) {
	logger := opts.Log
	if logger == nil {
		logger = log.Default()
	}

	name, err := wheel.ParseName(filepath.Base(wheelPath))
	if err != nil {
		return nil, err
	}
	if err := wheel.Extract(wheelPath, scratchDir); err != nil {
		return nil, err
	}
	distInfo, err := wheel.FindDistInfo(scratchDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wheelPath, err)
	}

	a := &Analysis{
		WheelPath:  wheelPath,
		Name:       name,
		ScratchDir: scratchDir,
		DistInfo:   distInfo,
	}

	roots, skipped, err := collectRoots(scratchDir, logger)
	if err != nil {
		return nil, err
	}
	a.Skipped = skipped
	if len(roots) == 0 {
		a.Pure = true
		return a, nil
	}

	g, err := graph.Build(graph.Builder{Resolver: opts.Resolver, Log: logger}, roots)
	if err != nil {
		return nil, err
	}
	a.Graph = g

	a.Libc, err = ldso.DetectLibc(roots[0].File, opts.Resolver)
	if err != nil {
		logger.Warn("libc probe failed", "error", err)
	}

	table := opts.PolicyTable
	if table == nil {
		table, err = policy.Load(g.Arch, a.Libc.Flavor)
		if err != nil {
			return nil, err
		}
	}
	a.Table = table
	a.Eval = table.Score(g)
	return a, nil
}

// collectRoots walks the unpacked payload and parses every ELF member.
// Non-ELF files are ignored; files that start with the ELF magic but fail
// to parse are collected as skipped.
func collectRoots(scratchDir string, logger log.Logger) ([]*graph.Root, []error, error) {
	var roots []*graph.Root
	var skipped []error

	err := filepath.WalkDir(scratchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if strings.HasSuffix(path, ".py") || !elffile.IsELF(path) {
			return nil
		}

		f, perr := elffile.Open(path)
		if perr != nil {
			logger.Warn("skipping unparsable binary", "path", path, "error", perr)
			skipped = append(skipped, perr)
			return nil
		}
		rel, err := filepath.Rel(scratchDir, path)
		if err != nil {
			return err
		}
		logger.Info("processing binary", "path", rel)
		roots = append(roots, &graph.Root{File: f, RelPath: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan wheel payload: %w", err)
	}
	return roots, skipped, nil
}
