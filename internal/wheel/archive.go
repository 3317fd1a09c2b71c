package wheel

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// zipEpoch is the earliest timestamp the zip format can store. Used when
// SOURCE_DATE_EPOCH is unset so repacking stays deterministic.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Extract unpacks a wheel into destDir, preserving permission bits.
// Entries that would escape destDir are rejected.
func Extract(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open wheel: %w", err)
	}
	defer func() { _ = r.Close() }()

	for _, entry := range r.File {
		target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
		if !pathWithin(target, destDir) {
			return fmt.Errorf("wheel entry %q escapes extraction directory", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		mode := entry.Mode() & fs.ModePerm
		if mode == 0 {
			mode = 0o644
		}
		// At least read/write for the owner, or repacking cannot read it back.
		mode |= 0o600

		if err := extractEntry(entry, target, mode); err != nil {
			return fmt.Errorf("extract %q: %w", entry.Name, err)
		}
	}
	return nil
}

func extractEntry(entry *zip.File, target string, mode fs.FileMode) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// O_CREATE honors umask; force the recorded bits.
	return os.Chmod(target, mode)
}

// Pack writes a deterministic wheel from the tree at srcDir: entries sorted
// by path, the given modification time on every entry, DEFLATE-compressed.
// A zero modTime falls back to the zip format's epoch.
func Pack(srcDir, zipPath string, modTime time.Time) error {
	if modTime.IsZero() {
		modTime = zipEpoch
	}

	var paths []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", srcDir, err)
	}
	sort.Strings(paths)

	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for _, path := range paths {
		if err := packEntry(zw, srcDir, path, modTime); err != nil {
			return fmt.Errorf("pack %q: %w", path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func packEntry(zw *zip.Writer, srcDir, path string, modTime time.Time) error {
	rel, err := filepath.Rel(srcDir, path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header := &zip.FileHeader{
		Name:     filepath.ToSlash(rel),
		Method:   zip.Deflate,
		Modified: modTime,
	}
	header.SetMode(info.Mode() & fs.ModePerm)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(w, f)
	return err
}

// pathWithin reports whether target stays inside baseDir after cleaning.
func pathWithin(target, baseDir string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

// FindDistInfo locates the single *.dist-info directory in an unpacked
// wheel and returns its name.
func FindDistInfo(rootDir string) (string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return "", err
	}
	var found []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".dist-info") {
			found = append(found, e.Name())
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no .dist-info directory in wheel")
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("multiple .dist-info directories: %v", found)
	}
}
