package repair

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wheelwright/wheelwright/internal/inspect"
	"github.com/wheelwright/wheelwright/internal/log"
	"github.com/wheelwright/wheelwright/internal/wheel"
)

// Executor applies a Plan to an analyzed wheel's scratch tree and packs
// the result. The input archive is never touched; the output materializes
// only on overall success.
type Executor struct {
	Patcher Patcher

	// Strip enables debug-symbol stripping of grafted copies; a strip
	// failure aborts the repair.
	Strip     bool
	StripTool *StripTool

	// Epoch pins output timestamps (SOURCE_DATE_EPOCH).
	Epoch time.Time

	Log log.Logger
}

// Execute runs the plan and returns the output wheel path inside outDir.
func (e *Executor) Execute(a *inspect.Analysis, plan *Plan, outDir string) (string, error) {
	logger := e.Log
	if logger == nil {
		logger = log.Default()
	}

	if !plan.TagOnly {
		if err := e.applyGrafts(a, plan, logger); err != nil {
			return "", err
		}
		if err := e.patchBinaries(a, plan, logger); err != nil {
			return "", err
		}
	}

	if err := e.retag(a, plan); err != nil {
		return "", err
	}
	return e.pack(a, plan, outDir)
}

// applyGrafts copies each selected library into the graft directory and
// patches the copies, leaves first.
func (e *Executor) applyGrafts(a *inspect.Analysis, plan *Plan, logger log.Logger) error {
	graftDir := filepath.Join(a.ScratchDir, plan.GraftDir)
	if err := os.MkdirAll(graftDir, 0o755); err != nil {
		return err
	}

	for _, g := range plan.Grafts {
		dest := filepath.Join(graftDir, g.NewName)
		logger.Info("grafting library", "soname", g.Soname, "src", g.SrcPath, "as", g.NewName)

		if err := copyFile(g.SrcPath, dest, 0o755); err != nil {
			return fmt.Errorf("graft %s: %w", g.Soname, err)
		}
		if e.Strip {
			tool := e.StripTool
			if tool == nil {
				tool = &StripTool{}
			}
			if err := tool.Strip(dest); err != nil {
				return err
			}
		}

		if err := e.Patcher.SetSoname(dest, g.NewName); err != nil {
			return err
		}
		for old, newName := range g.ReplaceNeeded {
			if err := e.Patcher.ReplaceNeeded(dest, old, newName); err != nil {
				return err
			}
		}
		if g.SetRunPath {
			if err := e.Patcher.SetRunPath(dest, g.RunPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// patchBinaries rewrites the root binaries' needed entries and search paths.
func (e *Executor) patchBinaries(a *inspect.Analysis, plan *Plan, logger log.Logger) error {
	for _, b := range plan.Binaries {
		target := filepath.Join(a.ScratchDir, filepath.FromSlash(b.RelPath))
		logger.Info("patching binary", "path", b.RelPath, "runpath", b.RunPath)

		if err := makeWritable(target); err != nil {
			return err
		}
		for old, newName := range b.ReplaceNeeded {
			if err := e.Patcher.ReplaceNeeded(target, old, newName); err != nil {
				return err
			}
		}
		if b.RunPath != "" {
			if err := e.Patcher.SetRunPath(target, b.RunPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// retag rewrites the WHEEL metadata and recomputes RECORD.
func (e *Executor) retag(a *inspect.Analysis, plan *Plan) error {
	wheelFile := filepath.Join(a.ScratchDir, a.DistInfo, "WHEEL")
	content, err := os.ReadFile(wheelFile)
	if err != nil {
		return err
	}
	meta, err := wheel.ParseMetadata(content)
	if err != nil {
		return fmt.Errorf("%s: %w", wheelFile, err)
	}
	meta.SetPlatforms(plan.Platforms)
	if err := os.WriteFile(wheelFile, meta.Render(), 0o644); err != nil {
		return err
	}

	recordRel := a.DistInfo + "/RECORD"
	entries, err := wheel.ComputeRecord(a.ScratchDir, recordRel)
	if err != nil {
		return err
	}
	data, err := wheel.WriteRecord(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(a.ScratchDir, filepath.FromSlash(recordRel)), data, 0o644)
}

// pack writes the output wheel under its re-tagged name, atomically.
func (e *Executor) pack(a *inspect.Analysis, plan *Plan, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}

	outName := *a.Name
	outName.PlatTags = plan.Platforms
	outPath := filepath.Join(outDir, outName.String())

	tmp, err := os.CreateTemp(outDir, ".wheelwright-*.whl")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := wheel.Pack(a.ScratchDir, tmpPath, e.Epoch); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return outPath, nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dest, mode)
}

// makeWritable ensures the owner can write the file before patching.
func makeWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode()&0o200 != 0 {
		return nil
	}
	return os.Chmod(path, info.Mode()|0o200)
}
