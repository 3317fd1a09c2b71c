package wheel

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// RecordEntry is one row of the .dist-info/RECORD manifest.
type RecordEntry struct {
	// Path is the archive-relative path, forward slashes.
	Path string

	// Digest is "sha256=<urlsafe-b64-without-padding>", empty for the
	// RECORD file itself.
	Digest string

	// Size is the byte length; -1 marks the RECORD row (left blank).
	Size int64
}

// ParseRecord parses the RECORD CSV.
func ParseRecord(data []byte) ([]RecordEntry, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 3

	var entries []RecordEntry
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse RECORD: %w", err)
		}
		e := RecordEntry{Path: row[0], Digest: row[1], Size: -1}
		if row[2] != "" {
			size, err := strconv.ParseInt(row[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse RECORD: bad size for %q: %w", row[0], err)
			}
			e.Size = size
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteRecord serializes RECORD rows.
func WriteRecord(entries []RecordEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, e := range entries {
		size := ""
		if e.Size >= 0 {
			size = strconv.FormatInt(e.Size, 10)
		}
		if err := w.Write([]string{e.Path, e.Digest, size}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// HashFile computes the RECORD digest string for one file.
func HashFile(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return "sha256=" + base64.RawURLEncoding.EncodeToString(h.Sum(nil)), size, nil
}

// ComputeRecord walks an unpacked wheel tree and produces a fresh RECORD:
// every file hashed and sized, the RECORD file itself listed last with an
// empty digest.
func ComputeRecord(rootDir, recordRelPath string) ([]RecordEntry, error) {
	var entries []RecordEntry
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == recordRelPath {
			return nil
		}
		digest, size, err := HashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, RecordEntry{Path: rel, Digest: digest, Size: size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("compute RECORD: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	entries = append(entries, RecordEntry{Path: recordRelPath, Size: -1})
	return entries, nil
}
