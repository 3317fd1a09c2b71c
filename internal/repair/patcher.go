package repair

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/wheelwright/wheelwright/internal/log"
)

// Patcher abstracts the external binary-patching backend.
type Patcher interface {
	ReplaceNeeded(file, oldSoname, newSoname string) error
	SetSoname(file, soname string) error
	SetRunPath(file, runpath string) error
	GetRunPath(file string) (string, error)
}

// Patchelf drives the patchelf utility, one rewrite per invocation.
type Patchelf struct {
	// Bin is the patchelf executable, resolved via PATH when relative.
	Bin string

	Log log.Logger
}

var patchelfVersionRE = regexp.MustCompile(`patchelf\s+(\d+)\.(\d+)`)

// Verify checks that patchelf exists and is at least version 0.9, the
// first release whose --set-soname does not corrupt section headers.
func (p *Patchelf) Verify() error {
	out, err := exec.Command(p.Bin, "--version").Output()
	if err != nil {
		return fmt.Errorf("cannot run %s --version (install patchelf >= 0.9): %w", p.Bin, err)
	}
	m := patchelfVersionRE.FindStringSubmatch(string(out))
	if m == nil {
		return fmt.Errorf("cannot parse patchelf version from %q", strings.TrimSpace(string(out)))
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	if major == 0 && minor < 9 {
		return fmt.Errorf("patchelf %s.%s found, need >= 0.9", m[1], m[2])
	}
	return nil
}

func (p *Patchelf) run(op string, file string, args ...string) error {
	logger := p.Log
	if logger == nil {
		logger = log.Default()
	}
	logger.Debug("patchelf", "op", op, "file", file, "args", strings.Join(args, " "))

	cmd := exec.Command(p.Bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &PatcherError{Op: op, Path: file, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// ReplaceNeeded rewrites one DT_NEEDED entry.
func (p *Patchelf) ReplaceNeeded(file, oldSoname, newSoname string) error {
	return p.run("replace-needed", file, "--replace-needed", oldSoname, newSoname, file)
}

// SetSoname rewrites DT_SONAME. Only used on grafted copies.
func (p *Patchelf) SetSoname(file, soname string) error {
	return p.run("set-soname", file, "--set-soname", soname, file)
}

// SetRunPath clears any existing search path and installs the new one.
func (p *Patchelf) SetRunPath(file, runpath string) error {
	// Remove first: patchelf appends otherwise, and stale absolute
	// entries must not survive.
	if err := p.run("remove-rpath", file, "--remove-rpath", file); err != nil {
		return err
	}
	return p.run("set-rpath", file, "--force-rpath", "--set-rpath", runpath, file)
}

// GetRunPath reads the current search path, for post-patch validation.
func (p *Patchelf) GetRunPath(file string) (string, error) {
	out, err := exec.Command(p.Bin, "--print-rpath", file).Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		return "", &PatcherError{Op: "print-rpath", Path: file, Stderr: stderr, Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}
