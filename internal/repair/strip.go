package repair

import (
	"os/exec"
	"strings"
)

// StripTool runs the external strip utility over grafted libraries.
type StripTool struct {
	// Bin is the strip executable, "strip" by default.
	Bin string
}

// Strip removes debug symbols from the file. The caller has already made
// the copy writable, so any failure here is a real one.
func (s *StripTool) Strip(path string) error {
	bin := s.Bin
	if bin == "" {
		bin = "strip"
	}
	cmd := exec.Command(bin, "-s", path)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &StripError{Path: path, Stderr: stderr.String(), Err: err}
	}
	return nil
}
