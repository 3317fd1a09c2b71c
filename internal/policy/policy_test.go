package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright/wheelwright/internal/elffile"
)

func TestLoadGlibcX8664(t *testing.T) {
	table, err := Load("x86_64", elffile.LibcGlibc)
	require.NoError(t, err)

	assert.Equal(t, "manylinux_2_5_x86_64", table.Highest().Name)
	assert.Equal(t, "linux_x86_64", table.Lowest().Name)
	assert.True(t, table.Lowest().Permissive())

	// No musllinux policies in a glibc table.
	for _, p := range table.Policies() {
		assert.NotContains(t, p.Name, "musllinux")
	}

	p := table.ByName("manylinux_2_17_x86_64")
	require.NotNil(t, p)
	assert.Equal(t, 80, p.Priority)
	assert.Equal(t, "2.17", p.SymbolVersions["GLIBC"])
	assert.True(t, p.LibWhitelist["libc.so.6"])
	assert.False(t, p.LibWhitelist["libfoo.so.1"])
	assert.True(t, p.Blacklist["libz.so.1"]["inflate_fast"])
}

func TestLoadAliasLookup(t *testing.T) {
	table, err := Load("x86_64", elffile.LibcGlibc)
	require.NoError(t, err)

	byAlias := table.ByName("manylinux2014_x86_64")
	require.NotNil(t, byAlias)
	assert.Equal(t, "manylinux_2_17_x86_64", byAlias.Name)

	// Bare family names are accepted shorthand.
	assert.Equal(t, byAlias, table.ByName("manylinux_2_17"))
	assert.Equal(t, byAlias, table.ByName("manylinux2014"))
	assert.Nil(t, table.ByName("manylinux_9_99"))
}

func TestLoadArchFiltering(t *testing.T) {
	table, err := Load("aarch64", elffile.LibcGlibc)
	require.NoError(t, err)

	// manylinux_2_5/2_12 are x86-only; the strictest aarch64 policy is 2_17.
	assert.Equal(t, "manylinux_2_17_aarch64", table.Highest().Name)
	assert.Nil(t, table.ByName("manylinux_2_5_aarch64"))
}

func TestLoadMuslFlavor(t *testing.T) {
	table, err := Load("x86_64", elffile.LibcMusl)
	require.NoError(t, err)

	assert.Equal(t, "musllinux_1_1_x86_64", table.Highest().Name)
	for _, p := range table.Policies() {
		assert.NotContains(t, p.Name, "manylinux")
	}
}

func TestByPriority(t *testing.T) {
	table, err := Load("x86_64", elffile.LibcGlibc)
	require.NoError(t, err)

	assert.Equal(t, "manylinux_2_12_x86_64", table.ByPriority(90).Name)
	assert.Nil(t, table.ByPriority(42))
}

func TestLoadFromRejectsBadVersion(t *testing.T) {
	data := []byte(`[
		{"name":"linux","priority":0,"symbol_versions":{},"lib_whitelist":[],"blacklist":{}},
		{"name":"broken","priority":10,
		 "symbol_versions":{"x86_64":{"GLIBC":"two.five"}},
		 "lib_whitelist":["libc.so.6"],"blacklist":{}}
	]`)
	_, err := LoadFrom(data, "x86_64", elffile.LibcGlibc)
	assert.ErrorContains(t, err, "bad version")
}

func TestLoadFromRejectsMissingName(t *testing.T) {
	data := []byte(`[{"priority":0,"symbol_versions":{},"lib_whitelist":[],"blacklist":{}}]`)
	_, err := LoadFrom(data, "x86_64", elffile.LibcGlibc)
	assert.Error(t, err)
}

func TestLoadFromRejectsShrinkingWhitelist(t *testing.T) {
	data := []byte(`[
		{"name":"linux","priority":0,"symbol_versions":{},"lib_whitelist":[],"blacklist":{}},
		{"name":"strict","priority":20,
		 "symbol_versions":{"x86_64":{"GLIBC":"2.5"}},
		 "lib_whitelist":["libc.so.6","libm.so.6"],"blacklist":{}},
		{"name":"lax","priority":10,
		 "symbol_versions":{"x86_64":{"GLIBC":"2.17"}},
		 "lib_whitelist":["libc.so.6"],"blacklist":{}}
	]`)
	_, err := LoadFrom(data, "x86_64", elffile.LibcGlibc)
	assert.ErrorContains(t, err, "drops whitelisted library")
}

func TestLoadFromRequiresBasePolicy(t *testing.T) {
	data := []byte(`[
		{"name":"only","priority":10,
		 "symbol_versions":{"x86_64":{"GLIBC":"2.5"}},
		 "lib_whitelist":["libc.so.6"],"blacklist":{}}
	]`)
	_, err := LoadFrom(data, "x86_64", elffile.LibcGlibc)
	assert.ErrorContains(t, err, "no permissive base policy")
}
