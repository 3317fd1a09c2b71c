package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHomeOverride(t *testing.T) {
	t.Setenv(EnvHome, "/opt/ww")

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, "/opt/ww", cfg.HomeDir)
	assert.Equal(t, filepath.Join("/opt/ww", "config.toml"), cfg.ConfigFile)
}

func TestLoadUserConfigMissingFile(t *testing.T) {
	cfg, err := loadUserConfigFromPath(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "wheelhouse", cfg.WheelDir)
	assert.Equal(t, ".libs", cfg.LibSdir)
	assert.Empty(t, cfg.Plat)
}

func TestLoadUserConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
plat = "manylinux_2_17_x86_64"
wheel_dir = "out"
exclude = ["libcuda.so.1"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadUserConfigFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "manylinux_2_17_x86_64", cfg.Plat)
	assert.Equal(t, "out", cfg.WheelDir)
	assert.Equal(t, ".libs", cfg.LibSdir) // default survives partial file
	assert.Equal(t, []string{"libcuda.so.1"}, cfg.Exclude)
}

func TestLoadUserConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("plat = [broken"), 0o644))

	_, err := loadUserConfigFromPath(path)
	assert.Error(t, err)
}

func TestDefaultPlat(t *testing.T) {
	t.Setenv(EnvPlat, "")
	os.Unsetenv(EnvPlat)

	assert.Equal(t, "", DefaultPlat(nil))
	assert.Equal(t, "musllinux_1_1_x86_64", DefaultPlat(&UserConfig{Plat: "musllinux_1_1_x86_64"}))

	t.Setenv(EnvPlat, "manylinux_2_28_x86_64")
	assert.Equal(t, "manylinux_2_28_x86_64", DefaultPlat(&UserConfig{Plat: "musllinux_1_1_x86_64"}))
}

func TestSourceDateEpoch(t *testing.T) {
	t.Setenv(EnvSourceDateEpoch, "315532800")
	assert.Equal(t, time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), SourceDateEpoch())

	t.Setenv(EnvSourceDateEpoch, "not-a-number")
	assert.True(t, SourceDateEpoch().IsZero())
}

func TestPatchelfPath(t *testing.T) {
	t.Setenv(EnvPatchelf, "")
	os.Unsetenv(EnvPatchelf)
	assert.Equal(t, "patchelf", PatchelfPath())

	t.Setenv(EnvPatchelf, "/usr/local/bin/patchelf")
	assert.Equal(t, "/usr/local/bin/patchelf", PatchelfPath())
}
