// Package ldso replicates the deterministic part of the ELF runtime
// linker's library search: DT_RUNPATH/DT_RPATH walking, LD_LIBRARY_PATH,
// the ld.so cache, and the default trusted directories. It also probes the
// host's libc flavor and version.
package ldso

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	cacheMagic   = "glibc-ld.so.cache"
	cacheVersion = "1.1"

	// DefaultCachePath is where glibc's ldconfig writes its cache.
	DefaultCachePath = "/etc/ld.so.cache"
)

// cacheHeader is the cache_file_new header written by ldconfig.
// See glibc sysdeps/generic/dl-cache.h.
type cacheHeader struct {
	Magic      [17]byte
	Version    [3]byte
	Count      uint32
	LenStrings uint32
	Flags      uint8
	_          [3]byte
	_          uint32 // extension offset
	_          [3]uint32
}

func (h *cacheHeader) validate() error {
	if string(h.Magic[:]) != cacheMagic {
		return fmt.Errorf("unsupported magic value: %q", h.Magic)
	}
	if string(h.Version[:]) != cacheVersion {
		return fmt.Errorf("unsupported %s version: %q", h.Magic, h.Version)
	}
	return nil
}

// cacheEntry is file_entry_new: string-table offsets for one soname→path pair.
type cacheEntry struct {
	Flags int32
	Key   uint32
	Value uint32
	OSVer uint32
	HWCap uint64
}

// Cache is a parsed ld.so.cache: soname → candidate paths in cache order.
// A soname may map to several paths (different hwcaps or ABIs); the
// resolver filters candidates by ELF class and machine.
type Cache struct {
	entries map[string][]string
}

// LoadCache parses the ldconfig cache at path (DefaultCachePath if empty).
// Both the bare new-format cache and the compat layout (old format with the
// new cache embedded) are handled by scanning for the new-format magic.
func LoadCache(path string) (*Cache, error) {
	if path == "" {
		path = DefaultCachePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	base := bytes.Index(data, []byte(cacheMagic))
	if base < 0 {
		return nil, fmt.Errorf("%s: no %q header found", path, cacheMagic)
	}
	data = data[base:]

	r := bytes.NewReader(data)
	var header cacheHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	if err := header.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c := &Cache{entries: make(map[string][]string, header.Count)}
	for i := uint32(0); i < header.Count; i++ {
		var e cacheEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("%s: read entry %d: %w", path, i, err)
		}
		key, err := cString(data, e.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: entry %d key: %w", path, i, err)
		}
		value, err := cString(data, e.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: entry %d value: %w", path, i, err)
		}
		c.entries[key] = append(c.entries[key], value)
	}
	return c, nil
}

// cString reads a nul-terminated string at off. Offsets are relative to the
// start of the new-format header.
func cString(data []byte, off uint32) (string, error) {
	if int64(off) >= int64(len(data)) {
		return "", fmt.Errorf("string offset %d out of range", off)
	}
	rest := data[off:]
	idx := bytes.IndexByte(rest, 0)
	if idx < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", off)
	}
	return string(rest[:idx]), nil
}

// Lookup returns the cached candidate paths for a soname, in cache order.
func (c *Cache) Lookup(soname string) []string {
	if c == nil {
		return nil
	}
	return c.entries[soname]
}

// Len returns the number of distinct sonames in the cache.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
