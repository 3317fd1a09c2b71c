package inspect

import (
	"archive/zip"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright/wheelwright/internal/ldso"
)

// writeWheel builds a wheel zip from name→content pairs.
func writeWheel(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

const pureWheelMeta = "Wheel-Version: 1.0\nRoot-Is-Purelib: true\nTag: py3-none-any\n"

func TestAnalyzePureWheel(t *testing.T) {
	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "demo-1.0-py3-none-any.whl")
	writeWheel(t, wheelPath, map[string]string{
		"demo/__init__.py":          "x = 1\n",
		"demo-1.0.dist-info/WHEEL":  pureWheelMeta,
		"demo-1.0.dist-info/RECORD": "",
	})

	a, err := AnalyzeWheel(wheelPath, filepath.Join(dir, "scratch"), Options{
		Resolver: &ldso.Resolver{},
	})
	require.NoError(t, err)

	assert.True(t, a.Pure)
	assert.Nil(t, a.Graph)
	assert.Equal(t, "demo-1.0.dist-info", a.DistInfo)
	assert.Equal(t, "demo", a.Name.Distribution)
}

func TestAnalyzeBadWheelName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-wheel.zip")
	writeWheel(t, path, map[string]string{"f": "x"})

	_, err := AnalyzeWheel(path, filepath.Join(dir, "scratch"), Options{Resolver: &ldso.Resolver{}})
	assert.Error(t, err)
}

func TestAnalyzeMissingDistInfo(t *testing.T) {
	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "demo-1.0-py3-none-any.whl")
	writeWheel(t, wheelPath, map[string]string{"demo/__init__.py": "x = 1\n"})

	_, err := AnalyzeWheel(wheelPath, filepath.Join(dir, "scratch"), Options{Resolver: &ldso.Resolver{}})
	assert.ErrorContains(t, err, "dist-info")
}

func TestAnalyzeSkipsUnparsableBinary(t *testing.T) {
	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "demo-1.0-cp39-cp39-linux_x86_64.whl")
	writeWheel(t, wheelPath, map[string]string{
		"demo/__init__.py": "x = 1\n",
		// ELF magic, then garbage: binary-looking but unparsable.
		"demo/broken.so":            "\x7fELF\x02\x01",
		"demo-1.0.dist-info/WHEEL":  "Wheel-Version: 1.0\nTag: cp39-cp39-linux_x86_64\n",
		"demo-1.0.dist-info/RECORD": "",
	})

	a, err := AnalyzeWheel(wheelPath, filepath.Join(dir, "scratch"), Options{
		Resolver: &ldso.Resolver{},
	})
	require.NoError(t, err)

	assert.True(t, a.Pure, "the only binary was skipped, nothing to analyze")
	require.Len(t, a.Skipped, 1)
}

func TestAnalyzeRealBinary(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF analysis only runs on Linux")
	}
	libc := ""
	for _, c := range []string{
		"/lib/x86_64-linux-gnu/libc.so.6",
		"/lib64/libc.so.6",
		"/usr/lib/libc.so.6",
		"/lib/aarch64-linux-gnu/libc.so.6",
	} {
		if _, err := os.Stat(c); err == nil {
			libc = c
			break
		}
	}
	if libc == "" {
		t.Skip("no system libc to embed in the test wheel")
	}
	payload, err := os.ReadFile(libc)
	require.NoError(t, err)

	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "demo-1.0-cp39-cp39-linux_x86_64.whl")
	writeWheel(t, wheelPath, map[string]string{
		"demo/ext.so":               string(payload),
		"demo-1.0.dist-info/WHEEL":  "Wheel-Version: 1.0\nTag: cp39-cp39-linux_x86_64\n",
		"demo-1.0.dist-info/RECORD": "",
	})

	cache, _ := ldso.LoadCache("")
	a, err := AnalyzeWheel(wheelPath, filepath.Join(dir, "scratch"), Options{
		Resolver: &ldso.Resolver{Cache: cache},
	})
	require.NoError(t, err)

	assert.False(t, a.Pure)
	require.NotNil(t, a.Graph)
	require.Len(t, a.Graph.Roots, 1)
	assert.Equal(t, "demo/ext.so", a.Graph.Roots[0].RelPath)
	assert.NotEmpty(t, a.Graph.Arch)
	require.NotNil(t, a.Eval)
	assert.NotNil(t, a.Eval.Overall)
}
